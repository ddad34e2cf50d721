package session

import "time"

// Step is the current position of the automation session.
type Step string

const (
	StepIdle            Step = "idle"
	StepConnecting      Step = "connecting"
	StepOpeningTarget   Step = "opening_target"
	StepOpeningComposer Step = "opening_composer"
	StepTyping          Step = "typing"
	StepAwaitingResult  Step = "awaiting_result"
	StepError           Step = "error"
)

// Session is the single process-wide record of automation state. It is owned
// by the Guard; all mutation goes through it.
type Session struct {
	Step           Step
	ActivePromptID int64 // 0 when no prompt owns the session
	TargetAppOpen  bool
	LastCaptureAt  time.Time
}

// Event is a progress notification emitted after entering each step. Message
// carries one of the fixed wire.Msg texts clients map onto progress steps.
type Event struct {
	Error    bool
	Message  string
	PromptID int64
	Step     Step
}
