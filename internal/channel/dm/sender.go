// Package dm implements the direct-message delivery channel. Messages are
// handed off to the delivery worker fleet over Pub/Sub.
package dm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Sender implements outreach.DMSender on top of a Publisher. A successful
// publish is a successful delivery hand-off; the downstream worker owns the
// rest.
type Sender struct {
	publisher outreach.Publisher
	topic     string
	clock     outreach.Clock
	logger    *zap.Logger
}

// New constructs a Sender.
func New(publisher outreach.Publisher, topic string, clock outreach.Clock, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{publisher: publisher, topic: topic, clock: clock, logger: logger}
}

type dmMessage struct {
	CompanyID string `json:"company_id"`
	Profile   string `json:"profile"`
	Content   string `json:"content"`
	QueuedAt  string `json:"queued_at"`
}

// Send rejects companies without a reachable profile, otherwise publishes
// the message for delivery.
func (s *Sender) Send(ctx context.Context, company outreach.Company, content string) (outreach.DeliveryResult, error) {
	if company.DMProfile == "" {
		return outreach.DeliveryResult{}, outreach.E(outreach.KindNoProfile, "dm send",
			fmt.Errorf("company %s has no dm profile", company.ID))
	}

	now := s.clock.Now()
	msgID, err := s.publisher.Publish(ctx, s.topic, dmMessage{
		CompanyID: company.ID,
		Profile:   company.DMProfile,
		Content:   content,
		QueuedAt:  now.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return outreach.DeliveryResult{}, outreach.E(outreach.Classify(err), "dm send", err)
	}

	s.logger.Debug("dm handed off",
		zap.String("company_id", company.ID),
		zap.String("message_id", msgID),
	)
	return outreach.DeliveryResult{
		Method:      outreach.MethodDM,
		Reference:   msgID,
		DeliveredAt: now,
	}, nil
}
