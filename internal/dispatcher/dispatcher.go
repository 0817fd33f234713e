package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/pgr-notifier/internal/common"
	"github.com/example/pgr-notifier/internal/event"
	"github.com/example/pgr-notifier/internal/journal"
	"github.com/example/pgr-notifier/internal/notify"
)

// MessageReader is the consumer-group surface of *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Sink interface {
	Send(ctx context.Context, batch []notify.OutboundNotification) error
}

type Enricher interface {
	Enrich(ctx context.Context, intent event.Intent) (notify.EnrichedContext, error)
	ResolveCitizenName(ctx context.Context, ev event.StatusChangeEvent) string
}

// Dispatcher turns update-topic events into outbound notifications. Journal
// is optional.
type Dispatcher struct {
	ReaderFactory   func() MessageReader
	Sink            Sink
	Enricher        Enricher
	Composer        notify.Composer
	SupportedSource string
	Journal         journal.Repository
	Logger          zerolog.Logger
}

const (
	outcomeDecodeError    = "decode_error"
	outcomeIneligible     = "ineligible"
	outcomeInvalid        = "invalid"
	outcomeAmbiguous      = "ambiguous"
	outcomeNoNotification = "no_notification"
	outcomeEnrichFailed   = "enrichment_failed"
	outcomeComposeFailed  = "compose_failed"
	outcomeSendFailed     = "send_failed"
	outcomeAbandoned      = "abandoned"
	outcomeSent           = "sent"
)

var (
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgr_status_events_total",
		Help: "Status change events consumed, by outcome",
	}, []string{"outcome"})
	notificationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgr_notifications_total",
		Help: "Notifications handed to the outbound sink, by intent and status",
	}, []string{"intent", "status"})
	processLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pgr_status_event_duration_seconds",
		Help:    "Time to process one status change event",
		Buckets: prometheus.DefBuckets,
	})
)

// Run consumes until ctx is cancelled. Offsets are committed for every event
// that was fully handled, including dropped ones; an event abandoned by
// shutdown stays uncommitted and is redelivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.ReaderFactory == nil || d.Sink == nil || d.Enricher == nil {
		return errors.New("dispatcher requires a reader factory, sink and enricher")
	}
	reader := d.ReaderFactory()
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := d.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, m kafka.Message) error {
	start := time.Now()
	spanCtx, span := otel.Tracer("dispatcher").Start(ctx, "dispatch-status-event")
	defer span.End()
	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", m.Partition),
		attribute.Int64("messaging.kafka.offset", m.Offset),
	)

	logger := common.WithContext(spanCtx, d.Logger).With().
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Logger()

	outcome, err := d.process(spanCtx, m, logger)
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	eventCounter.WithLabelValues(outcome).Inc()
	processLatency.Observe(time.Since(start).Seconds())
	return err
}

// process returns an error only when ctx was cancelled before the
// notification reached the sink.
func (d *Dispatcher) process(ctx context.Context, m kafka.Message, logger zerolog.Logger) (string, error) {
	ev, err := event.Decode(m.Value)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decode status change event")
		return outcomeDecodeError, nil
	}
	if ev.Source != d.SupportedSource {
		return outcomeIneligible, nil
	}

	logger = logger.With().Str("service_request_id", ev.ServiceRequestID).Logger()
	if err := ev.Validate(); err != nil {
		logger.Warn().Err(err).Msg("dropping incomplete status change event")
		return outcomeInvalid, nil
	}

	intent, err := event.Classify(ev)
	if err != nil {
		logger.Error().Err(err).Msg("rejecting ambiguous status change event")
		return outcomeAmbiguous, nil
	}
	if intent.Kind == event.KindNone {
		logger.Debug().Str("status", ev.ApplicationStatus).Str("action", ev.WorkflowAction).Msg("status does not notify citizens")
		return outcomeNoNotification, nil
	}
	logger = logger.With().Str("intent", intent.Kind.String()).Logger()

	citizenName := d.Enricher.ResolveCitizenName(ctx, ev)
	ec, err := d.Enricher.Enrich(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeAbandoned, ctx.Err()
		}
		logger.Error().Err(err).Msg("enrichment failed, dropping event")
		return outcomeEnrichFailed, nil
	}

	n, err := d.Composer.Compose(intent, ec, citizenName)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compose notification")
		return outcomeComposeFailed, nil
	}
	if ctx.Err() != nil {
		return outcomeAbandoned, ctx.Err()
	}

	if err := d.Sink.Send(ctx, []notify.OutboundNotification{n}); err != nil {
		notificationCounter.WithLabelValues(intent.Kind.String(), "rejected").Inc()
		logger.Error().Err(err).Str("template_id", n.ExtraInfo.TemplateID).Msg("outbound sink rejected notification")
		return outcomeSendFailed, nil
	}
	notificationCounter.WithLabelValues(intent.Kind.String(), "sent").Inc()
	logger.Info().Str("template_id", n.ExtraInfo.TemplateID).Msg("notification sent to citizen")

	d.record(ctx, m, intent, n, logger)
	return outcomeSent, nil
}

func (d *Dispatcher) record(ctx context.Context, m kafka.Message, intent event.Intent, n notify.OutboundNotification, logger zerolog.Logger) {
	if d.Journal == nil {
		return
	}
	duplicate, err := d.Journal.Record(ctx, journal.Entry{
		ID:               uuid.NewString(),
		Topic:            m.Topic,
		Partition:        m.Partition,
		Offset:           m.Offset,
		ServiceRequestID: intent.Event.ServiceRequestID,
		TenantID:         n.TenantID,
		Intent:           intent.Kind.String(),
		TemplateID:       n.ExtraInfo.TemplateID,
		MobileNumber:     n.User.MobileNumber,
		Params:           n.ExtraInfo.Params,
		DispatchedAt:     time.Now().UTC(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to journal notification")
		return
	}
	if duplicate {
		logger.Info().Msg("notification redelivered")
	}
}
