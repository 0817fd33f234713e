// Package localization resolves message codes to per-locale strings from the
// egov localization service.
package localization

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Bundle maps a locale such as "en_IN" to the localized message.
type Bundle map[string]string

// Gateway looks up the bundle for a message code. A missing code yields an
// empty bundle and a nil error.
type Gateway interface {
	GetMessageBundleForCode(ctx context.Context, code string) (Bundle, error)
}

var searchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "localization_search_duration_seconds",
	Help:    "Latency of localization message searches",
	Buckets: prometheus.DefBuckets,
}, []string{"status"})

type message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Module  string `json:"module"`
	Locale  string `json:"locale"`
}

type searchResponse struct {
	Messages []message `json:"messages"`
}

// HTTPGateway queries localization/messages/v1/_search once per configured locale.
type HTTPGateway struct {
	Host     string
	TenantID string
	Locales  []string
	Client   *http.Client
}

func (g *HTTPGateway) GetMessageBundleForCode(ctx context.Context, code string) (Bundle, error) {
	ctx, span := otel.Tracer("localization").Start(ctx, "localization-search")
	defer span.End()
	span.SetAttributes(attribute.String("localization.code", code))

	bundle := Bundle{}
	for _, locale := range g.Locales {
		messages, err := g.search(ctx, locale, code)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, m := range messages {
			if m.Code == code {
				bundle[m.Locale] = m.Message
			}
		}
	}
	return bundle, nil
}

func (g *HTTPGateway) search(ctx context.Context, locale, code string) ([]message, error) {
	start := time.Now()
	query := url.Values{}
	query.Set("locale", locale)
	query.Set("tenantId", g.TenantID)
	query.Set("codes", code)
	endpoint := g.Host + "localization/messages/v1/_search?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		searchLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("localization search: %w", err)
	}
	defer resp.Body.Close()
	searchLatency.WithLabelValues(http.StatusText(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("localization search: unexpected status %s", resp.Status)
	}
	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode localization response: %w", err)
	}
	return body.Messages, nil
}
