package session

import (
	"context"

	"github.com/qmuntal/stateless"

	"github.com/comigor/lana-go/internal/logger"
)

// FSM States
const (
	StateIdle           = "Idle"
	StateAwaitingReply  = "AwaitingReply"
	StateTitleSynthesis = "TitleSynthesis"
)

// FSM Triggers
const (
	triggerSubmit      = "Submit"
	triggerReplied     = "Replied"     // reply stored on an existing conversation
	triggerNeedsTitle  = "NeedsTitle"  // first exchange of a new conversation
	triggerReplyFailed = "ReplyFailed" // gateway failure on the user's message
	triggerTitled      = "Titled"      // conversation created
	triggerTitleFailed = "TitleFailed" // gateway failure while naming
	triggerSelect      = "Select"      // load a stored conversation
	triggerNewThread   = "NewThread"   // clear the selection
)

// newMachine builds the exchange state machine:
//
//	Idle --Submit--> AwaitingReply
//	AwaitingReply --Replied|ReplyFailed--> Idle
//	AwaitingReply --NeedsTitle--> TitleSynthesis
//	TitleSynthesis --Titled|TitleFailed--> Idle
//
// Select and NewThread are only accepted while Idle.
func newMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachineWithMode(StateIdle, stateless.FiringImmediate)

	fsm.Configure(StateIdle).
		Permit(triggerSubmit, StateAwaitingReply).
		PermitReentry(triggerSelect).
		PermitReentry(triggerNewThread)

	fsm.Configure(StateAwaitingReply).
		Permit(triggerReplied, StateIdle).
		Permit(triggerReplyFailed, StateIdle).
		Permit(triggerNeedsTitle, StateTitleSynthesis)

	fsm.Configure(StateTitleSynthesis).
		Permit(triggerTitled, StateIdle).
		Permit(triggerTitleFailed, StateIdle)

	fsm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		logger.L.Debug().
			Str("from", stateName(t.Source)).
			Str("to", stateName(t.Destination)).
			Str("trigger", stateName(t.Trigger)).
			Msg("session transition")
	})
	return fsm
}

func stateName(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "?"
}
