package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "seed", from: StateStart, event: EventSeeded, want: StateReason},
		{name: "final answer", from: StateReason, event: EventFinalAnswer, want: StateEnd},
		{name: "tool calls", from: StateReason, event: EventToolCalls, want: StateDispatch},
		{name: "reason budget", from: StateReason, event: EventBudgetExceeded, want: StateEnd},
		{name: "reason failed", from: StateReason, event: EventFailed, want: StateEnd},
		{name: "folded", from: StateDispatch, event: EventResultsFolded, want: StateReason},
		{name: "dispatch budget", from: StateDispatch, event: EventBudgetExceeded, want: StateEnd},
		{name: "dispatch failed", from: StateDispatch, event: EventFailed, want: StateEnd},

		{name: "start cannot answer", from: StateStart, event: EventFinalAnswer, wantErr: true},
		{name: "start cannot dispatch", from: StateStart, event: EventToolCalls, wantErr: true},
		{name: "reason cannot fold", from: StateReason, event: EventResultsFolded, wantErr: true},
		{name: "dispatch cannot dispatch", from: StateDispatch, event: EventToolCalls, wantErr: true},
		{name: "dispatch cannot answer", from: StateDispatch, event: EventFinalAnswer, wantErr: true},
		{name: "end is terminal", from: StateEnd, event: EventSeeded, wantErr: true},
		{name: "end ignores budget", from: StateEnd, event: EventBudgetExceeded, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.from, te.From)
				assert.Equal(t, tt.event, te.Event)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_EndHasNoExit(t *testing.T) {
	for ev := EventSeeded; ev <= EventFailed; ev++ {
		_, err := Next(StateEnd, ev)
		assert.Error(t, err, ev.String())
	}
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "START", StateStart.String())
	assert.Equal(t, "DISPATCH", StateDispatch.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "tool_calls", EventToolCalls.String())
	assert.Equal(t, "Event(42)", Event(42).String())
	assert.Equal(t, "illegal transition: END on seeded", (&TransitionError{From: StateEnd, Event: EventSeeded}).Error())
}

func TestLoopBudgetExceeded(t *testing.T) {
	rounds := &LoopBudgetExceeded{Rounds: 5, Limit: 5, Cause: CauseRounds}
	assert.Equal(t, "loop budget exceeded: 5 of 5 rounds used", rounds.Error())
	assert.Contains(t, rounds.Warning(), "5 tool rounds")

	timeout := &LoopBudgetExceeded{Rounds: 2, Limit: 5, Cause: CauseTimeout, Timeout: 2 * time.Minute}
	assert.Contains(t, timeout.Error(), "turn timeout of 2m0s")
	assert.Contains(t, timeout.Warning(), "2m0s time limit")
}
