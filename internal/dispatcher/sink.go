package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/example/pgr-notifier/internal/notify"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes notifications to the topic the channel transport
// consumes. Delivery to the citizen is not confirmed here.
type KafkaSink struct {
	Writer MessageWriter
}

func (s *KafkaSink) Send(ctx context.Context, batch []notify.OutboundNotification) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, n := range batch {
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.TenantID + ":" + n.User.MobileNumber),
			Value: body,
			Headers: []kafka.Header{
				{Key: "template-id", Value: []byte(n.ExtraInfo.TemplateID)},
			},
		})
	}
	if err := s.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write notifications: %w", err)
	}
	return nil
}
