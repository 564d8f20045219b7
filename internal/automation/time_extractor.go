package automation

import (
	"fmt"
	"strings"
	"time"

	"smartgarden/internal/models"

	"github.com/robfig/cron/v3"
)

// LocalClock returns the lowercase weekday name and "HH:MM" of now in loc
func LocalClock(now time.Time, loc *time.Location) (weekday, hhmm string) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return strings.ToLower(local.Weekday().String()), local.Format("15:04")
}

// ConvertToCronExpression renders a schedule's start time and days as a
// standard cron expression in loc, e.g. "CRON_TZ=Asia/Ho_Chi_Minh 0 6 * * 1,3".
func ConvertToCronExpression(s models.Schedule, loc *time.Location) (string, error) {
	hour, minute, err := models.ParseClock(s.Time)
	if err != nil {
		return "", err
	}

	days := make([]string, 0, len(s.Days))
	for _, d := range s.Days {
		idx := -1
		for i, name := range models.Weekdays {
			if name == d {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("%w: unknown day %q", models.ErrInvalidControl, d)
		}
		days = append(days, fmt.Sprint(idx))
	}
	dow := "*"
	if len(days) > 0 {
		dow = strings.Join(days, ",")
	}

	expr := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	if loc != nil {
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	return expr, nil
}

// NextRun returns the next start of s strictly after now
func NextRun(s models.Schedule, now time.Time, loc *time.Location) (time.Time, error) {
	expr, err := ConvertToCronExpression(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", models.ErrInvalidControl, err)
	}
	return sched.Next(now), nil
}
