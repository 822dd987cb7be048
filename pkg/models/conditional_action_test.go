package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionalActionFiresOn(t *testing.T) {
	truthy := true
	falsy := false

	tests := []struct {
		name      string
		trigger   ActionTrigger
		status    ExecutionStatus
		condition *bool
		want      bool
	}{
		{"always fires on success", ActionAlways, ExecutionSuccess, nil, true},
		{"always fires on failure", ActionAlways, ExecutionFailure, nil, true},
		{"always fires on timeout", ActionAlways, ExecutionTimeout, nil, true},
		{"on_success fires on success", ActionOnSuccess, ExecutionSuccess, nil, true},
		{"on_success ignores failure", ActionOnSuccess, ExecutionFailure, nil, false},
		{"on_success ignores partial", ActionOnSuccess, ExecutionPartial, nil, false},
		{"on_failure fires on failure", ActionOnFailure, ExecutionFailure, nil, true},
		{"on_failure fires on timeout", ActionOnFailure, ExecutionTimeout, nil, true},
		{"on_failure fires on partial", ActionOnFailure, ExecutionPartial, nil, true},
		{"on_failure ignores success", ActionOnFailure, ExecutionSuccess, nil, false},
		{"on_condition fires when condition true", ActionOnCondition, ExecutionSuccess, &truthy, true},
		{"on_condition ignores condition false", ActionOnCondition, ExecutionSuccess, &falsy, false},
		{"on_condition defaults to false when unset", ActionOnCondition, ExecutionSuccess, nil, false},
		{"on_condition evaluates on failure too", ActionOnCondition, ExecutionFailure, &truthy, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := &ConditionalAction{Trigger: tt.trigger}
			assert.Equal(t, tt.want, action.FiresOn(tt.status, tt.condition))
		})
	}
}

func TestConditionalActionValidate(t *testing.T) {
	t.Run("run_event needs a target", func(t *testing.T) {
		action := &ConditionalAction{ID: "a1", Trigger: ActionAlways, Kind: ActionKindRunEvent}
		assert.Error(t, action.Validate("owner"))
	})

	t.Run("run_event cannot target its own event", func(t *testing.T) {
		action := &ConditionalAction{
			ID:            "a1",
			Trigger:       ActionOnFailure,
			Kind:          ActionKindRunEvent,
			TargetEventID: "owner",
		}

		assert.ErrorIs(t, action.Validate("owner"), ErrSelfTargeting)
	})

	t.Run("send_message needs a known channel and template", func(t *testing.T) {
		action := &ConditionalAction{
			ID:      "a1",
			Trigger: ActionAlways,
			Kind:    ActionKindSendMessage,
			Channel: "pager",
		}
		assert.Error(t, action.Validate("owner"))

		action.Channel = ChannelSlack
		assert.Error(t, action.Validate("owner"), "missing template")

		action.Template = "{{.event.Name}} finished"
		assert.NoError(t, action.Validate("owner"))
	})
}
