package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		action   string
		comments string
		want     Kind
	}{
		{name: "comment only", comments: "please share a photo", want: KindCommented},
		{name: "rejected", status: "REJECTED", action: "REJECT", comments: "Duplicate entry;resolved already", want: KindRejected},
		{name: "rejected ignores action", status: "REJECTED", action: "reassign", want: KindRejected},
		{name: "reassign assigned pair", status: "assigned", action: "reassign", want: KindReassigned},
		{name: "pair is case sensitive", status: "ASSIGNED", action: "reassign", want: KindNone},
		{name: "pending for reassignment", status: "PENDINGFORREASSIGNMENT", action: "REASSIGN", want: KindReassigned},
		{name: "pending at lme reassigned", status: "PENDINGATLME", action: "REASSIGN", want: KindReassigned},
		{name: "pending at lme assigned", status: "PENDINGATLME", action: "ASSIGN", want: KindAssigned},
		{name: "pending at lme without action", status: "PENDINGATLME", want: KindAssigned},
		{name: "resolved", status: "RESOLVED", action: "RESOLVE", want: KindResolved},
		{name: "intermediate status", status: "PENDINGFORASSIGNMENT", action: "APPLY", want: KindNone},
		{name: "action without status", action: "COMMENT", comments: "noted", want: KindNone},
		{name: "status with comments", status: "RESOLVED", comments: "fixed", want: KindResolved},
		{name: "empty", want: KindNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := StatusChangeEvent{ApplicationStatus: tc.status, WorkflowAction: tc.action, Comments: tc.comments}
			intent, err := Classify(ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, intent.Kind)
			assert.Equal(t, ev, intent.Event)
		})
	}
}

func TestClassifyCommentNeverYieldsStatusKind(t *testing.T) {
	for _, comments := range []string{"a", "a;b", ";", "REJECTED"} {
		intent, err := Classify(StatusChangeEvent{Comments: comments})
		require.NoError(t, err)
		if intent.Kind != KindCommented {
			t.Fatalf("Classify(comments=%q)=%s, expected commented", comments, intent.Kind)
		}
	}
}

func TestKindEnrichmentNeeds(t *testing.T) {
	cases := map[Kind][2]bool{
		KindRejected:   {false, false},
		KindReassigned: {true, true},
		KindAssigned:   {true, true},
		KindResolved:   {false, true},
		KindCommented:  {true, false},
	}
	for kind, want := range cases {
		assert.Equal(t, want[0], kind.NeedsAssignee(), "%s assignee", kind)
		assert.Equal(t, want[1], kind.NeedsTrackingURL(), "%s tracking url", kind)
	}
}
