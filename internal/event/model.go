package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Citizen struct {
	Name         string
	MobileNumber string
	UUID         string
}

// StatusChangeEvent is one workflow transition of a citizen service request.
// Empty strings mean the field was absent on the wire.
type StatusChangeEvent struct {
	Source            string
	ServiceRequestID  string
	ServiceCode       string
	TenantID          string
	ApplicationStatus string
	WorkflowAction    string
	Comments          string
	Citizen           Citizen
	AssigneeIDs       []string
}

// Envelope is the JSON shape published by the workflow engine on the update topic.
type Envelope struct {
	Service  ServicePayload  `json:"service"`
	Workflow WorkflowPayload `json:"workflow"`
}

type ServicePayload struct {
	Source            string         `json:"source"`
	ServiceRequestID  string         `json:"serviceRequestId"`
	ServiceCode       string         `json:"serviceCode"`
	TenantID          string         `json:"tenantId"`
	ApplicationStatus string         `json:"applicationStatus,omitempty"`
	Citizen           CitizenPayload `json:"citizen"`
}

type CitizenPayload struct {
	Name         string `json:"name,omitempty"`
	MobileNumber string `json:"mobileNumber"`
	UUID         string `json:"uuid"`
}

type WorkflowPayload struct {
	Action    string   `json:"action,omitempty"`
	Comments  string   `json:"comments,omitempty"`
	Assignees []string `json:"assignes,omitempty"`
}

var ErrInvalidEvent = errors.New("invalid status change event")

// Decode parses an update-topic message.
func Decode(body []byte) (StatusChangeEvent, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return StatusChangeEvent{}, fmt.Errorf("decode status change event: %w", err)
	}
	return env.Event(), nil
}

func (env Envelope) Event() StatusChangeEvent {
	ev := StatusChangeEvent{
		Source:            env.Service.Source,
		ServiceRequestID:  env.Service.ServiceRequestID,
		ServiceCode:       env.Service.ServiceCode,
		TenantID:          env.Service.TenantID,
		ApplicationStatus: env.Service.ApplicationStatus,
		WorkflowAction:    env.Workflow.Action,
		Comments:          env.Workflow.Comments,
		Citizen: Citizen{
			Name:         env.Service.Citizen.Name,
			MobileNumber: env.Service.Citizen.MobileNumber,
			UUID:         env.Service.Citizen.UUID,
		},
	}
	if len(env.Workflow.Assignees) > 0 {
		ev.AssigneeIDs = append([]string(nil), env.Workflow.Assignees...)
	}
	return ev
}

// Envelope converts the event back to its wire shape.
func (e StatusChangeEvent) Envelope() Envelope {
	return Envelope{
		Service: ServicePayload{
			Source:            e.Source,
			ServiceRequestID:  e.ServiceRequestID,
			ServiceCode:       e.ServiceCode,
			TenantID:          e.TenantID,
			ApplicationStatus: e.ApplicationStatus,
			Citizen: CitizenPayload{
				Name:         e.Citizen.Name,
				MobileNumber: e.Citizen.MobileNumber,
				UUID:         e.Citizen.UUID,
			},
		},
		Workflow: WorkflowPayload{
			Action:    e.WorkflowAction,
			Comments:  e.Comments,
			Assignees: e.AssigneeIDs,
		},
	}
}

// Validate checks the fields every notification needs.
func (e StatusChangeEvent) Validate() error {
	switch {
	case e.ServiceRequestID == "":
		return fmt.Errorf("%w: serviceRequestId is required", ErrInvalidEvent)
	case e.ServiceCode == "":
		return fmt.Errorf("%w: serviceCode is required", ErrInvalidEvent)
	case e.TenantID == "":
		return fmt.Errorf("%w: tenantId is required", ErrInvalidEvent)
	case e.Citizen.MobileNumber == "":
		return fmt.Errorf("%w: citizen.mobileNumber is required", ErrInvalidEvent)
	}
	return nil
}

// StateTenant returns the state-level tenant, e.g. "pb" for "pb.amritsar".
func (e StatusChangeEvent) StateTenant() string {
	tenant, _, _ := strings.Cut(e.TenantID, ".")
	return tenant
}

// RejectReason is the first semicolon-delimited segment of the comments.
func (e StatusChangeEvent) RejectReason() string {
	reason, _, _ := strings.Cut(e.Comments, ";")
	return reason
}

// FirstAssignee returns the first assignee id, if any.
func (e StatusChangeEvent) FirstAssignee() (string, bool) {
	if len(e.AssigneeIDs) == 0 {
		return "", false
	}
	return e.AssigneeIDs[0], true
}
