package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartgarden/internal/automation"
	"smartgarden/internal/utils"

	"github.com/rs/zerolog"
)

// Pusher delivers a realtime message to a user's open connections
type Pusher interface {
	SendToUser(userID string, msg any) bool
}

// Mailer sends one templated alert email
type Mailer interface {
	SendAlert(ctx context.Context, to string, alert automation.EmailAlert) error
}

// Directory resolves a user's email address
type Directory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// EmailJob is an email waiting to be sent by a background worker
type EmailJob struct {
	To    string                `json:"to"`
	Alert automation.EmailAlert `json:"alert"`
}

// EmailQueue hands emails to background workers
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, job EmailJob) error
}

// Message is the realtime payload pushed to a user
type Message struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	DeviceID  string    `json:"deviceId,omitempty"`
	ControlID string    `json:"controlId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OwnerNotifier fans a notification out to the configured channels. A
// failing channel does not stop the others.
type OwnerNotifier struct {
	pusher    Pusher
	mailer    Mailer
	directory Directory
	queue     EmailQueue
	now       func() time.Time
	log       zerolog.Logger
}

// NewOwnerNotifier creates a notifier. mailer and directory may be nil when
// email is not configured.
func NewOwnerNotifier(pusher Pusher, mailer Mailer, directory Directory) *OwnerNotifier {
	return &OwnerNotifier{
		pusher:    pusher,
		mailer:    mailer,
		directory: directory,
		now:       time.Now,
		log:       utils.Component("notifier"),
	}
}

// WithQueue routes emails through q instead of sending them inline
func (n *OwnerNotifier) WithQueue(q EmailQueue) *OwnerNotifier {
	n.queue = q
	return n
}

// Notify delivers note
func (n *OwnerNotifier) Notify(ctx context.Context, note automation.Notification) error {
	var errs []error

	if note.Realtime && n.pusher != nil {
		delivered := n.pusher.SendToUser(note.UserID, Message{
			Type:      "notification",
			Kind:      note.Kind,
			Message:   note.Message,
			Severity:  note.Severity,
			DeviceID:  note.DeviceID,
			ControlID: note.ControlID,
			Timestamp: n.now(),
		})
		if !delivered {
			n.log.Debug().Str("user_id", note.UserID).Str("kind", note.Kind).Msg("user not connected, realtime notice dropped")
		}
	}

	if note.SMS {
		n.log.Info().Str("user_id", note.UserID).Msg("sms delivery is not configured, skipping")
	}

	if len(note.Emails) > 0 {
		if err := n.email(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *OwnerNotifier) email(ctx context.Context, note automation.Notification) error {
	if n.directory == nil || (n.mailer == nil && n.queue == nil) {
		return nil
	}
	to, err := n.directory.UserEmail(ctx, note.UserID)
	if err != nil {
		return fmt.Errorf("lookup email of %s: %w", note.UserID, err)
	}
	if to == "" {
		return nil
	}

	var errs []error
	for _, alert := range note.Emails {
		if n.queue != nil {
			if err := n.queue.EnqueueEmail(ctx, EmailJob{To: to, Alert: alert}); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := n.mailer.SendAlert(ctx, to, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
