package models

import "fmt"

// ActionTrigger decides which terminal outcomes fire a conditional action.
type ActionTrigger string

const (
	ActionOnSuccess   ActionTrigger = "on_success"
	ActionOnFailure   ActionTrigger = "on_failure"
	ActionAlways      ActionTrigger = "always"
	ActionOnCondition ActionTrigger = "on_condition"
)

// ActionKind selects what a fired conditional action does.
type ActionKind string

const (
	ActionKindRunEvent    ActionKind = "run_event"
	ActionKindSendMessage ActionKind = "send_message"
)

// NotifyChannel identifies the delivery channel of a send_message action.
type NotifyChannel string

const (
	ChannelEmail   NotifyChannel = "email"
	ChannelSlack   NotifyChannel = "slack"
	ChannelDiscord NotifyChannel = "discord"
)

// ConditionalAction is a follow-up reaction attached to an event
// definition, evaluated in declaration order against finalized execution
// records.
type ConditionalAction struct {
	ID      string        `json:"id"      validate:"required"`
	Trigger ActionTrigger `json:"trigger" validate:"required"`
	Kind    ActionKind    `json:"kind"    validate:"required"`

	// TargetEventID is required for run_event actions.
	TargetEventID string `json:"target_event_id,omitempty"`

	// Channel and Template are required for send_message actions. The
	// template is rendered against the finalized record's fields.
	Channel   NotifyChannel `json:"channel,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	Template  string        `json:"template,omitempty"`
}

// Validate checks the action against the event that owns it. Direct
// self-cycles are rejected here, at configuration time; indirect cycles are
// bounded at runtime by the chain depth guard.
func (a *ConditionalAction) Validate(ownerEventID string) error {
	switch a.Trigger {
	case ActionOnSuccess, ActionOnFailure, ActionAlways, ActionOnCondition:
	default:
		return fmt.Errorf("unknown action trigger %q", a.Trigger)
	}

	switch a.Kind {
	case ActionKindRunEvent:
		if a.TargetEventID == "" {
			return fmt.Errorf("run_event action %s has no target event", a.ID)
		}

		if a.TargetEventID == ownerEventID {
			return ErrSelfTargeting
		}
	case ActionKindSendMessage:
		switch a.Channel {
		case ChannelEmail, ChannelSlack, ChannelDiscord:
		default:
			return fmt.Errorf("unknown notification channel %q", a.Channel)
		}

		if a.Template == "" {
			return fmt.Errorf("send_message action %s has no template", a.ID)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}

	return nil
}

// FiresOn reports whether this action fires for the given terminal status
// and runtime condition. Timeout and partial count as failure here. The
// runtime condition defaults to false when the script never set one.
func (a *ConditionalAction) FiresOn(status ExecutionStatus, condition *bool) bool {
	switch a.Trigger {
	case ActionAlways:
		return true
	case ActionOnSuccess:
		return status == ExecutionSuccess
	case ActionOnFailure:
		return status == ExecutionFailure || status == ExecutionTimeout || status == ExecutionPartial
	case ActionOnCondition:
		return condition != nil && *condition
	default:
		return false
	}
}
