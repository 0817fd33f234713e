package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pgr-notifier/internal/event"
	"github.com/example/pgr-notifier/internal/localization"
	"github.com/example/pgr-notifier/internal/lookup"
)

type stubGateway struct {
	mu      sync.Mutex
	bundles map[string]localization.Bundle
	err     error
	codes   []string
}

func (g *stubGateway) GetMessageBundleForCode(_ context.Context, code string) (localization.Bundle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes = append(g.codes, code)
	if g.err != nil {
		return nil, g.err
	}
	return g.bundles[code], nil
}

type stubUsers struct {
	calls int32
	users map[string]lookup.User
	err   error
}

func (u *stubUsers) SearchUser(_ context.Context, _ string, uuid string) (lookup.User, error) {
	atomic.AddInt32(&u.calls, 1)
	if u.err != nil {
		return lookup.User{}, u.err
	}
	user, ok := u.users[uuid]
	if !ok {
		return lookup.User{}, lookup.ErrUserNotFound
	}
	return user, nil
}

type stubShortener struct {
	calls int32
	short string
	err   error
	block bool
	last  atomic.Value
}

func (s *stubShortener) ShortenURL(ctx context.Context, longURL string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.last.Store(longURL)
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.short, s.err
}

func testChannel() ChannelConfig {
	return ChannelConfig{
		Recipient: "919000000000",
		Templates: map[event.Kind]string{
			event.KindRejected:   "tpl-rejected",
			event.KindReassigned: "tpl-reassigned",
			event.KindAssigned:   "tpl-assigned",
			event.KindResolved:   "tpl-resolved",
			event.KindCommented:  "tpl-commented",
		},
	}
}

func testEvent() event.StatusChangeEvent {
	return event.StatusChangeEvent{
		Source:           "whatsapp",
		ServiceRequestID: "SR-1",
		ServiceCode:      "PT",
		TenantID:         "pb.amritsar",
		Comments:         "Duplicate entry;resolved already",
		Citizen:          event.Citizen{Name: "Ravi", MobileNumber: "9999999999", UUID: "c-1"},
		AssigneeIDs:      []string{"e-1"},
	}
}

func TestComposeParamsPerKind(t *testing.T) {
	ec := EnrichedContext{Category: "Property Tax", AssigneeName: "Asha", TrackingURL: "https://s/x"}
	tests := []struct {
		kind     event.Kind
		template string
		params   []string
	}{
		{event.KindRejected, "tpl-rejected", []string{"Ravi", "Property Tax", "SR-1", "Duplicate entry"}},
		{event.KindReassigned, "tpl-reassigned", []string{"Ravi", "Property Tax", "SR-1", "Asha", "https://s/x"}},
		{event.KindAssigned, "tpl-assigned", []string{"Ravi", "Property Tax", "SR-1", "Asha", "https://s/x"}},
		{event.KindResolved, "tpl-resolved", []string{"Ravi", "Property Tax", "SR-1", "https://s/x"}},
		{event.KindCommented, "tpl-commented", []string{"Ravi", "Asha", "Property Tax", "SR-1", "Duplicate entry;resolved already"}},
	}

	c := Composer{Channel: testChannel()}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			n, err := c.Compose(event.Intent{Kind: tc.kind, Event: testEvent()}, ec, "Ravi")
			require.NoError(t, err)
			assert.Equal(t, tc.params, n.ExtraInfo.Params)
			assert.Equal(t, tc.template, n.ExtraInfo.TemplateID)
			assert.Equal(t, "919000000000", n.ExtraInfo.Recipient)
			assert.Equal(t, "pb", n.TenantID)
			assert.Equal(t, User{MobileNumber: "9999999999", UserID: "c-1"}, n.User)
		})
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := Composer{Channel: testChannel()}
	intent := event.Intent{Kind: event.KindReassigned, Event: testEvent()}
	ec := EnrichedContext{Category: "Property Tax", AssigneeName: "Asha", TrackingURL: "https://s/x"}

	first, err := c.Compose(intent, ec, "Ravi")
	require.NoError(t, err)
	second, err := c.Compose(intent, ec, "Ravi")
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))
}

func TestComposeRejectsIncompleteInput(t *testing.T) {
	c := Composer{Channel: testChannel()}

	_, err := c.Compose(event.Intent{Kind: event.KindNone, Event: testEvent()}, EnrichedContext{}, "Ravi")
	assert.True(t, errors.Is(err, ErrNoNotification))

	_, err = c.Compose(event.Intent{Kind: event.KindResolved, Event: testEvent()}, EnrichedContext{Category: "PT"}, "Ravi")
	assert.True(t, errors.Is(err, ErrMissingEnrichment))

	_, err = Composer{Channel: ChannelConfig{}}.Compose(event.Intent{Kind: event.KindRejected, Event: testEvent()}, EnrichedContext{}, "Ravi")
	assert.Error(t, err)
}

func TestComposeWireShape(t *testing.T) {
	c := Composer{Channel: testChannel()}
	n, err := c.Compose(event.Intent{Kind: event.KindRejected, Event: testEvent()}, EnrichedContext{Category: "Property Tax"}, "Ravi")
	require.NoError(t, err)

	body, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"tenantId": "pb",
		"user": {"mobileNumber": "9999999999", "userId": "c-1"},
		"extraInfo": {"templateId": "tpl-rejected", "recipient": "919000000000",
			"params": ["Ravi", "Property Tax", "SR-1", "Duplicate entry"]}
	}`, string(body))
}

func newEnricher(gw *stubGateway, users *stubUsers, short *stubShortener) *Enricher {
	return &Enricher{
		Localization:  gw,
		Users:         users,
		Shortener:     short,
		ExternalHost:  "https://egov.example.org/",
		Locale:        "en_IN",
		LookupTimeout: time.Second,
		Logger:        zerolog.Nop(),
	}
}

func ptGateway() *stubGateway {
	return &stubGateway{bundles: map[string]localization.Bundle{
		"SERVICEDEFS.PT": {"en_IN": "Property Tax"},
		CitizenLabelCode: {"en_IN": "Citizen ji"},
	}}
}

func TestEnrichResolvedScenario(t *testing.T) {
	users := &stubUsers{}
	short := &stubShortener{short: "https://s/abc"}
	e := newEnricher(ptGateway(), users, short)

	ev := testEvent()
	ev.ApplicationStatus = "RESOLVED"
	intent, err := event.Classify(ev)
	require.NoError(t, err)

	ec, err := e.Enrich(context.Background(), intent)
	require.NoError(t, err)
	n, err := Composer{Channel: testChannel()}.Compose(intent, ec, e.ResolveCitizenName(context.Background(), ev))
	require.NoError(t, err)

	assert.Equal(t, []string{"Ravi", "Property Tax", "SR-1", "https://s/abc"}, n.ExtraInfo.Params)
	assert.Zero(t, atomic.LoadInt32(&users.calls), "resolved notifications do not need the assignee")
	assert.Equal(t,
		"https://egov.example.org/citizen/otpLogin?mobileNo=9999999999&redirectTo=digit-ui/citizen/pgr/complaints/SR-1",
		short.last.Load())
}

func TestEnrichSkipsUnneededLookups(t *testing.T) {
	users := &stubUsers{users: map[string]lookup.User{"e-1": {Name: "Asha"}}}
	short := &stubShortener{short: "https://s/abc"}
	e := newEnricher(ptGateway(), users, short)

	ec, err := e.Enrich(context.Background(), event.Intent{Kind: event.KindRejected, Event: testEvent()})
	require.NoError(t, err)
	assert.Equal(t, EnrichedContext{Category: "Property Tax"}, ec)
	assert.Zero(t, atomic.LoadInt32(&users.calls))
	assert.Zero(t, atomic.LoadInt32(&short.calls))

	ec, err = e.Enrich(context.Background(), event.Intent{Kind: event.KindCommented, Event: testEvent()})
	require.NoError(t, err)
	assert.Equal(t, EnrichedContext{Category: "Property Tax", AssigneeName: "Asha"}, ec)
	assert.Zero(t, atomic.LoadInt32(&short.calls))
}

func TestResolveAssigneeDefaults(t *testing.T) {
	users := &stubUsers{users: map[string]lookup.User{"e-1": {Name: "Asha"}, "e-2": {Name: "Bela"}}}
	e := newEnricher(ptGateway(), users, &stubShortener{})

	assert.Equal(t, DefaultAssigneeName, e.ResolveAssignee(context.Background(), "pb.amritsar", nil))
	assert.Zero(t, atomic.LoadInt32(&users.calls))

	assert.Equal(t, "Asha", e.ResolveAssignee(context.Background(), "pb.amritsar", []string{"e-1", "e-2"}))
	assert.Equal(t, DefaultAssigneeName, e.ResolveAssignee(context.Background(), "pb.amritsar", []string{"nobody"}))

	failing := newEnricher(ptGateway(), &stubUsers{err: lookup.ErrUnexpectedStatus}, &stubShortener{})
	assert.Equal(t, DefaultAssigneeName, failing.ResolveAssignee(context.Background(), "pb.amritsar", []string{"e-1"}))
}

func TestResolveCategoryFallsBackToKey(t *testing.T) {
	e := newEnricher(ptGateway(), &stubUsers{}, &stubShortener{})
	assert.Equal(t, "Property Tax", e.ResolveCategory(context.Background(), "pt"))
	assert.Equal(t, "SERVICEDEFS.GARBAGE", e.ResolveCategory(context.Background(), "garbage"))

	broken := newEnricher(&stubGateway{err: errors.New("down")}, &stubUsers{}, &stubShortener{})
	assert.Equal(t, "SERVICEDEFS.PT", broken.ResolveCategory(context.Background(), "PT"))
}

func TestResolveCitizenName(t *testing.T) {
	gw := ptGateway()
	e := newEnricher(gw, &stubUsers{}, &stubShortener{})

	ev := testEvent()
	assert.Equal(t, "Ravi", e.ResolveCitizenName(context.Background(), ev))
	assert.Empty(t, gw.codes)

	ev.Citizen.Name = ""
	assert.Equal(t, "Citizen ji", e.ResolveCitizenName(context.Background(), ev))

	empty := newEnricher(&stubGateway{}, &stubUsers{}, &stubShortener{})
	assert.Equal(t, DefaultCitizenName, empty.ResolveCitizenName(context.Background(), ev))
}

func TestEnrichTrackingURLFailureIsFatal(t *testing.T) {
	e := newEnricher(ptGateway(), &stubUsers{}, &stubShortener{err: lookup.ErrUnexpectedStatus})

	_, err := e.Enrich(context.Background(), event.Intent{Kind: event.KindAssigned, Event: testEvent()})
	assert.True(t, errors.Is(err, ErrTrackingURL), "got %v", err)
}

func TestEnrichTrackingURLTimeout(t *testing.T) {
	e := newEnricher(ptGateway(), &stubUsers{}, &stubShortener{block: true})
	e.LookupTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := e.Enrich(context.Background(), event.Intent{Kind: event.KindResolved, Event: testEvent()})
	assert.True(t, errors.Is(err, ErrTrackingURL), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCitizenComplaintURLEncodesRequestID(t *testing.T) {
	got := CitizenComplaintURL("https://h/", "PB PGR/1", "98")
	assert.Equal(t, "https://h/citizen/otpLogin?mobileNo=98&redirectTo=digit-ui/citizen/pgr/complaints/PB%20PGR%2F1", got)
}
