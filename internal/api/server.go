package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/pgr-notifier/internal/common"
	"github.com/example/pgr-notifier/internal/event"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Server accepts status change envelopes over HTTP and publishes them to the
// update topic, e.g. to replay events the notifier dropped.
type Server struct {
	Producer Producer
	Logger   zerolog.Logger
}

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "event_gateway_requests_total",
	Help: "Status change events received over HTTP",
}, []string{"status"})

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/events", s.publish)
	return r
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("event-gateway").Start(r.Context(), "publish-status-event")
	defer span.End()

	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	ev := env.Event()
	if ev.Source == "" {
		s.respondErr(ctx, w, http.StatusBadRequest, errors.New("service.source is required"))
		return
	}
	if err := ev.Validate(); err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	span.SetAttributes(attribute.String("service_request.id", ev.ServiceRequestID))

	body, err := json.Marshal(ev.Envelope())
	if err != nil {
		s.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ServiceRequestID),
		Value: body,
	}); err != nil {
		s.respondErr(ctx, w, http.StatusBadGateway, err)
		return
	}

	requestCounter.WithLabelValues("accepted").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"serviceRequestId": ev.ServiceRequestID})
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Int("status", status).Msg("event gateway request failed")
	requestCounter.WithLabelValues(http.StatusText(status)).Inc()
	http.Error(w, err.Error(), status)
}
