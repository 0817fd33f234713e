package notify

import (
	"errors"
	"fmt"

	"github.com/example/pgr-notifier/internal/event"
)

var (
	ErrNoNotification    = errors.New("intent does not produce a notification")
	ErrMissingEnrichment = errors.New("required enrichment missing")
)

// ChannelConfig is the fixed outbound channel setup: the business number
// messages are sent from and the template registered per kind.
type ChannelConfig struct {
	Recipient string
	Templates map[event.Kind]string
}

type User struct {
	MobileNumber string `json:"mobileNumber"`
	UserID       string `json:"userId"`
}

type ExtraInfo struct {
	TemplateID string   `json:"templateId"`
	Recipient  string   `json:"recipient"`
	Params     []string `json:"params"`
}

// OutboundNotification is the record handed to the channel sink. Params are
// positional and must match the template slot order.
type OutboundNotification struct {
	TenantID  string    `json:"tenantId"`
	User      User      `json:"user"`
	ExtraInfo ExtraInfo `json:"extraInfo"`
}

// EnrichedContext carries the values resolved for one event.
type EnrichedContext struct {
	Category     string
	AssigneeName string
	TrackingURL  string
}

// Composer builds notifications against a fixed channel configuration.
type Composer struct {
	Channel ChannelConfig
}

func (c Composer) Compose(intent event.Intent, ec EnrichedContext, citizenName string) (OutboundNotification, error) {
	ev := intent.Event
	kind := intent.Kind
	if kind == event.KindNone {
		return OutboundNotification{}, ErrNoNotification
	}
	if kind.NeedsTrackingURL() && ec.TrackingURL == "" {
		return OutboundNotification{}, fmt.Errorf("%w: tracking url for %s", ErrMissingEnrichment, kind)
	}
	templateID, ok := c.Channel.Templates[kind]
	if !ok {
		return OutboundNotification{}, fmt.Errorf("no template configured for %s", kind)
	}

	var params []string
	switch kind {
	case event.KindRejected:
		params = []string{citizenName, ec.Category, ev.ServiceRequestID, ev.RejectReason()}
	case event.KindReassigned, event.KindAssigned:
		params = []string{citizenName, ec.Category, ev.ServiceRequestID, ec.AssigneeName, ec.TrackingURL}
	case event.KindResolved:
		params = []string{citizenName, ec.Category, ev.ServiceRequestID, ec.TrackingURL}
	case event.KindCommented:
		params = []string{citizenName, ec.AssigneeName, ec.Category, ev.ServiceRequestID, ev.Comments}
	default:
		return OutboundNotification{}, fmt.Errorf("%w: unknown kind %d", ErrNoNotification, kind)
	}

	return OutboundNotification{
		TenantID: ev.StateTenant(),
		User: User{
			MobileNumber: ev.Citizen.MobileNumber,
			UserID:       ev.Citizen.UUID,
		},
		ExtraInfo: ExtraInfo{
			TemplateID: templateID,
			Recipient:  c.Channel.Recipient,
			Params:     params,
		},
	}, nil
}
