package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusTransitions(t *testing.T) {
	assert.True(t, ExecutionPending.CanTransition(ExecutionRunning))
	assert.True(t, ExecutionPending.CanTransition(ExecutionFailure))
	assert.True(t, ExecutionRunning.CanTransition(ExecutionSuccess))
	assert.True(t, ExecutionRunning.CanTransition(ExecutionTimeout))

	// Terminal records never move again.
	for _, terminal := range []ExecutionStatus{ExecutionSuccess, ExecutionFailure, ExecutionTimeout, ExecutionPartial} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransition(ExecutionRunning), "%s must not restart", terminal)
		assert.False(t, terminal.CanTransition(ExecutionSuccess), "%s must not change", terminal)
	}

	assert.False(t, ExecutionRunning.CanTransition(ExecutionPending))
}

func TestExecutionStatusRetryable(t *testing.T) {
	assert.False(t, ExecutionSuccess.Retryable())
	assert.True(t, ExecutionFailure.Retryable())
	assert.True(t, ExecutionTimeout.Retryable())
	assert.True(t, ExecutionPartial.Retryable())
	assert.False(t, ExecutionRunning.Retryable())
}

func TestFinalForTrigger(t *testing.T) {
	// Success is always the last word.
	success := &ExecutionRecord{Status: ExecutionSuccess, AttemptNumber: 1}
	assert.True(t, success.FinalForTrigger(3))

	// A retryable failure within budget is not final.
	failed := &ExecutionRecord{Status: ExecutionFailure, AttemptNumber: 1}
	assert.False(t, failed.FinalForTrigger(3))

	// Budget spent.
	failed.AttemptNumber = 4
	assert.True(t, failed.FinalForTrigger(3))

	// The dispatcher's stamp overrides the budget, as on cancellation.
	cancelled := &ExecutionRecord{Status: ExecutionFailure, AttemptNumber: 1, FinalAttempt: true}
	assert.True(t, cancelled.FinalForTrigger(3))
}
