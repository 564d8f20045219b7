package automation

import (
	"time"

	"smartgarden/internal/models"
)

// Expired returns the active controls whose manual end time has passed
func Expired(now time.Time, controls []*models.Control) []*models.Control {
	var out []*models.Control
	for _, c := range controls {
		if c == nil || c.Status != models.StatusActive || c.Manual.EndTime == nil {
			continue
		}
		if !c.Manual.EndTime.After(now) {
			out = append(out, c)
		}
	}
	return out
}
