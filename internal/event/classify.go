package event

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindNone Kind = iota
	KindRejected
	KindReassigned
	KindAssigned
	KindResolved
	KindCommented
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindReassigned:
		return "reassigned"
	case KindAssigned:
		return "assigned"
	case KindResolved:
		return "resolved"
	case KindCommented:
		return "commented"
	default:
		return "none"
	}
}

// NeedsAssignee reports whether the kind's template carries an assignee name.
func (k Kind) NeedsAssignee() bool {
	return k == KindReassigned || k == KindAssigned || k == KindCommented
}

// NeedsTrackingURL reports whether the kind's template carries a tracking link.
func (k Kind) NeedsTrackingURL() bool {
	return k == KindReassigned || k == KindAssigned || k == KindResolved
}

// Intent is the notification decision for a single event.
type Intent struct {
	Kind  Kind
	Event StatusChangeEvent
}

var ErrClassificationAmbiguity = errors.New("event matches both comment and status notifications")

const (
	statusRejected         = "REJECTED"
	statusPendingReassign  = "PENDINGFORREASSIGNMENT"
	statusPendingAtLME     = "PENDINGATLME"
	statusResolved         = "RESOLVED"
	actionReassignAtLME    = "REASSIGN"
	reassignedAssignedPair = "reassign-assigned"
)

// Classify maps an event to at most one notification intent. A KindNone
// intent is the normal outcome for statuses citizens are not told about.
func Classify(ev StatusChangeEvent) (Intent, error) {
	comment := isCommentOnly(ev)
	status := classifyStatus(ev)
	if comment && status != KindNone {
		return Intent{Event: ev}, fmt.Errorf("%w: status %q action %q", ErrClassificationAmbiguity, ev.ApplicationStatus, ev.WorkflowAction)
	}
	if comment {
		return Intent{Kind: KindCommented, Event: ev}, nil
	}
	return Intent{Kind: status, Event: ev}, nil
}

func isCommentOnly(ev StatusChangeEvent) bool {
	return ev.ApplicationStatus == "" && ev.WorkflowAction == "" && ev.Comments != ""
}

func classifyStatus(ev StatusChangeEvent) Kind {
	status, action := ev.ApplicationStatus, ev.WorkflowAction
	if status == "" {
		return KindNone
	}
	switch {
	case status == statusRejected:
		return KindRejected
	case action+"-"+status == reassignedAssignedPair:
		return KindReassigned
	case status == statusPendingReassign:
		return KindReassigned
	case status == statusPendingAtLME:
		if action == actionReassignAtLME {
			return KindReassigned
		}
		return KindAssigned
	case status == statusResolved:
		return KindResolved
	}
	return KindNone
}
