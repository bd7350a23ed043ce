// Package notifier emails job owners when their annotations complete.
package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/events"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/queue"
)

// Directory resolves a user id to a deliverable address.
type Directory interface {
	Get(ctx context.Context, userID string) (*jobstore.Profile, error)
}

// Mailer sends plain-text email.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Notifier consumes completion events and sends email.
type Notifier struct {
	directory Directory
	mailer    Mailer
	linkBase  string
	logger    *zap.Logger
}

// New creates a notifier. linkBase is the web tier base URL used to build
// the results link.
func New(directory Directory, mailer Mailer, linkBase string, logger *zap.Logger) *Notifier {
	return &Notifier{directory: directory, mailer: mailer, linkBase: linkBase, logger: logger}
}

// HandleMessage processes one completion notification from the results
// queue.
func (n *Notifier) HandleMessage(ctx context.Context, msg queue.Message) error {
	var event events.JobComplete
	if err := events.Decode(msg.Body, &event); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrDrop, err)
	}
	if event.JobID == "" || event.UserID == "" {
		return fmt.Errorf("%w: completion event missing job_id or user_id", queue.ErrDrop)
	}

	profile, err := n.directory.Get(ctx, event.UserID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return fmt.Errorf("%w: no profile for user %s", queue.ErrDrop, event.UserID)
		}
		return err
	}

	subject := fmt.Sprintf("Results available for job %s", event.JobID)
	body := fmt.Sprintf(
		"Your annotation job completed at %s. View job details and results: %s/annotations/%s",
		event.CompleteTime.Format("2006-01-02 15:04:05 MST"),
		n.linkBase, event.JobID,
	)

	if err := n.mailer.Send(ctx, profile.Email, subject, body); err != nil {
		return err
	}

	n.logger.Info("completion email sent",
		zap.String("job_id", event.JobID),
		zap.String("user_id", event.UserID))
	return nil
}
