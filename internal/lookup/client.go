package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrUserNotFound     = errors.New("user not found")
	ErrEmptyShortURL    = errors.New("shortener returned an empty url")
)

var (
	lookupCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_requests_total",
		Help: "Total identity and url shortener requests",
	}, []string{"operation", "status"})
	lookupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookup_request_duration_seconds",
		Help:    "Latency of identity and url shortener requests including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Client talks to the egov user search and url shortening services.
type Client struct {
	BaseURL           string
	ShortenerEndpoint string
	HTTPClient        *http.Client
	Limiter           *rate.Limiter
	// MaxElapsed bounds retries of 5xx responses. Zero means a single attempt.
	MaxElapsed time.Duration
}

type User struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	UserName     string `json:"userName"`
	MobileNumber string `json:"mobileNumber"`
	TenantID     string `json:"tenantId"`
}

type userSearchRequest struct {
	RequestInfo struct{} `json:"RequestInfo"`
	TenantID    string   `json:"tenantId"`
	UUID        []string `json:"uuid"`
}

type userSearchResponse struct {
	User []User `json:"user"`
}

// SearchUser returns the first user matching uuid within tenantID.
func (c *Client) SearchUser(ctx context.Context, tenantID, uuid string) (User, error) {
	ctx, span := otel.Tracer("lookup").Start(ctx, "user-search")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	reqBody := userSearchRequest{TenantID: tenantID, UUID: []string{uuid}}
	var out userSearchResponse
	err := c.do(ctx, "user_search", "user/_search", reqBody, func(body []byte) error {
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode user search response: %w", err))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return User{}, err
	}
	if len(out.User) == 0 {
		return User{}, ErrUserNotFound
	}
	return out.User[0], nil
}

// ShortenURL asks the shortener for a short form of longURL. The response body
// is the short url as plain text.
func (c *Client) ShortenURL(ctx context.Context, longURL string) (string, error) {
	ctx, span := otel.Tracer("lookup").Start(ctx, "shorten-url")
	defer span.End()

	var short string
	err := c.do(ctx, "shorten_url", c.ShortenerEndpoint, map[string]string{"url": longURL}, func(body []byte) error {
		short = strings.TrimSpace(string(body))
		return nil
	})
	if err == nil && short == "" {
		err = ErrEmptyShortURL
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return short, nil
}

func (c *Client) do(ctx context.Context, operation, path string, payload any, handle func([]byte) error) error {
	start := time.Now()
	defer func() {
		lookupLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	attempt := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client().Do(req)
		if err != nil {
			lookupCounter.WithLabelValues(operation, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		lookupCounter.WithLabelValues(operation, http.StatusText(resp.StatusCode)).Inc()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s: %w: %s", operation, ErrUnexpectedStatus, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s: %w: %s", operation, ErrUnexpectedStatus, resp.Status))
		}
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read body: %w", operation, err)
		}
		return handle(respBody)
	}

	return backoff.Retry(attempt, backoff.WithContext(c.backOff(), ctx))
}

func (c *Client) backOff() backoff.BackOff {
	if c.MaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	op := backoff.NewExponentialBackOff()
	op.InitialInterval = 50 * time.Millisecond
	op.MaxElapsedTime = c.MaxElapsed
	return op
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}
