package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Notifier delivers approval notifications to reviewers. Implementations may
// post to chat channels, send email, or just log.
type Notifier interface {
	// ApprovalRequested announces a newly created request to the org's
	// reviewers.
	ApprovalRequested(ctx context.Context, req *models.ApprovalRequest) error
}

// LogNotifier writes notifications to the structured log. Used as the
// default when no channel adapter is wired up.
type LogNotifier struct{}

func (LogNotifier) ApprovalRequested(_ context.Context, req *models.ApprovalRequest) error {
	log.Info().
		Str("request_id", req.RequestID.String()).
		Str("org_id", req.OrgID.String()).
		Str("capability_id", req.CapabilityID).
		Str("risk_level", string(req.Risk.Level)).
		Msg("Approval requested")
	return nil
}

// Dispatch delivers a notification asynchronously with exponential backoff.
// Delivery failures are logged and never propagated: notification is a
// best-effort side channel, the request itself is already durable.
func Dispatch(ctx context.Context, notifier Notifier, req *models.ApprovalRequest) {
	if notifier == nil {
		return
	}

	go func() {
		op := func() (struct{}, error) {
			return struct{}{}, notifier.ApprovalRequested(ctx, req)
		}

		_, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(5),
			backoff.WithMaxElapsedTime(2*time.Minute),
		)
		if err != nil {
			log.Warn().
				Err(err).
				Str("request_id", req.RequestID.String()).
				Msg("Failed to deliver approval notification")
		}
	}()
}
