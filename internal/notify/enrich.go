package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/pgr-notifier/internal/common"
	"github.com/example/pgr-notifier/internal/event"
	"github.com/example/pgr-notifier/internal/localization"
	"github.com/example/pgr-notifier/internal/lookup"
)

const (
	DefaultAssigneeName = "the concerned employee"
	DefaultCitizenName  = "Citizen"
	CategoryPrefix      = "SERVICEDEFS."
	CitizenLabelCode    = "chatbot.template.citizen"

	defaultLookupTimeout = 5 * time.Second
)

var ErrTrackingURL = errors.New("resolve tracking url")

var enrichmentDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "enrichment_degraded_total",
	Help: "Enrichment lookups that fell back to a default value",
}, []string{"field"})

type UserDirectory interface {
	SearchUser(ctx context.Context, tenantID, uuid string) (lookup.User, error)
}

type Shortener interface {
	ShortenURL(ctx context.Context, longURL string) (string, error)
}

// Enricher resolves the display values a notification needs. Category and
// assignee lookups degrade to fallbacks; the tracking url does not.
type Enricher struct {
	Localization  localization.Gateway
	Users         UserDirectory
	Shortener     Shortener
	ExternalHost  string
	Locale        string
	LookupTimeout time.Duration
	Logger        zerolog.Logger
}

// Enrich runs the lookups the intent's kind needs concurrently.
func (e *Enricher) Enrich(ctx context.Context, intent event.Intent) (EnrichedContext, error) {
	ev := intent.Event
	var ec EnrichedContext

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ec.Category = e.ResolveCategory(gctx, ev.ServiceCode)
		return nil
	})
	if intent.Kind.NeedsAssignee() {
		g.Go(func() error {
			ec.AssigneeName = e.ResolveAssignee(gctx, ev.TenantID, ev.AssigneeIDs)
			return nil
		})
	}
	if intent.Kind.NeedsTrackingURL() {
		g.Go(func() error {
			link, err := e.ResolveTrackingURL(gctx, ev.ServiceRequestID, ev.Citizen.MobileNumber)
			if err != nil {
				return err
			}
			ec.TrackingURL = link
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EnrichedContext{}, err
	}
	return ec, nil
}

// ResolveCategory returns the localized label for a service code, or the
// lookup key itself when no label is available.
func (e *Enricher) ResolveCategory(ctx context.Context, serviceCode string) string {
	key := CategoryPrefix + strings.ToUpper(serviceCode)
	label, err := e.localized(ctx, key)
	if err != nil || label == "" {
		e.degraded(ctx, "category", err).Str("code", key).Msg("category label unavailable, using code")
		return key
	}
	return label
}

func (e *Enricher) ResolveAssignee(ctx context.Context, tenantID string, assigneeIDs []string) string {
	if len(assigneeIDs) == 0 {
		return DefaultAssigneeName
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	user, err := e.Users.SearchUser(ctx, tenantID, assigneeIDs[0])
	if err != nil || user.Name == "" {
		e.degraded(ctx, "assignee", err).Str("tenant_id", tenantID).Msg("assignee lookup failed, using default name")
		return DefaultAssigneeName
	}
	return user.Name
}

func (e *Enricher) ResolveTrackingURL(ctx context.Context, serviceRequestID, mobileNumber string) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	short, err := e.Shortener.ShortenURL(ctx, CitizenComplaintURL(e.ExternalHost, serviceRequestID, mobileNumber))
	if err != nil {
		return "", fmt.Errorf("%w for %s: %v", ErrTrackingURL, serviceRequestID, err)
	}
	return short, nil
}

// ResolveCitizenName returns the event's citizen name, or the localized
// "citizen" label when the name is absent.
func (e *Enricher) ResolveCitizenName(ctx context.Context, ev event.StatusChangeEvent) string {
	if ev.Citizen.Name != "" {
		return ev.Citizen.Name
	}
	label, err := e.localized(ctx, CitizenLabelCode)
	if err != nil || label == "" {
		e.degraded(ctx, "citizen_name", err).Msg("citizen label unavailable, using default")
		return DefaultCitizenName
	}
	return label
}

// CitizenComplaintURL is the OTP-login link that lands the citizen on the
// complaint's detail page.
func CitizenComplaintURL(externalHost, serviceRequestID, mobileNumber string) string {
	return externalHost + "citizen/otpLogin?mobileNo=" + encodeComponent(mobileNumber) +
		"&redirectTo=digit-ui/citizen/pgr/complaints/" + encodeComponent(serviceRequestID)
}

func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (e *Enricher) localized(ctx context.Context, code string) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	bundle, err := e.Localization.GetMessageBundleForCode(ctx, code)
	if err != nil {
		return "", err
	}
	return bundle[e.Locale], nil
}

func (e *Enricher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Enricher) degraded(ctx context.Context, field string, err error) *zerolog.Event {
	enrichmentDegraded.WithLabelValues(field).Inc()
	logger := common.WithContext(ctx, e.Logger)
	evt := logger.Warn().Str("field", field)
	if err != nil {
		evt = evt.Err(err)
	}
	return evt
}
