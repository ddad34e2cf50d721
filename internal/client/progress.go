package client

import (
	"sync"
	"time"

	"deskpilot/internal/wire"
)

// StepState is the client-side view of one automation step.
type StepState int

const (
	StepPending StepState = iota
	StepDone
	StepFailed
)

// Progress step indices, in execution order.
const (
	ProgressOpeningTarget = iota
	ProgressOpeningComposer
	ProgressTyping
	ProgressWatching
	progressSteps
)

var stepLabels = [progressSteps]string{
	"opening editor",
	"opening composer",
	"typing message",
	"watching result",
}

// ProgressView derives a non-authoritative rendering of session progress
// purely from received frames. Safe for concurrent use; the Reconnector
// feeds it from its read loop while the UI polls Snapshot.
type ProgressView struct {
	mu       sync.Mutex
	steps    [progressSteps]StepState
	lastMsg  string
	failed   bool
	accepted bool
	busy     bool

	image   []byte
	imageAt time.Time
}

// ProgressSnapshot is a point-in-time copy of the view, detached from the
// stored image so the caller can render without holding the lock.
type ProgressSnapshot struct {
	Steps       [progressSteps]StepState
	StepLabels  [progressSteps]string
	LastMessage string
	Failed      bool
	Accepted    bool
	Busy        bool
	HasImage    bool
	ImageAt     time.Time
}

func NewProgressView() *ProgressView {
	return &ProgressView{}
}

// OnStatus maps known server texts to progress steps. An error-severity
// frame marks every step failed; unknown texts only update the last
// message line.
func (v *ProgressView) OnStatus(st *wire.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastMsg = st.Message

	if st.Status == wire.StatusError {
		if st.Message == wire.MsgBusy {
			v.busy = true
		}
		v.failed = true
		for i := range v.steps {
			v.steps[i] = StepFailed
		}
		return
	}

	switch st.Message {
	case wire.MsgOpeningTarget:
		v.completeThrough(ProgressOpeningTarget)
	case wire.MsgOpeningComposer:
		v.completeThrough(ProgressOpeningComposer)
	case wire.MsgTyping:
		v.completeThrough(ProgressTyping)
	case wire.MsgExecuted, wire.MsgResuming, wire.MsgInProgress:
		v.completeThrough(ProgressTyping)
	case wire.MsgAccepted:
		v.completeThrough(ProgressWatching)
		v.accepted = true
	}
}

// OnScreenshot advances the view to the watching step and replaces the
// previously held image.
func (v *ProgressView) OnScreenshot(header *wire.ScreenshotHeader, image []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completeThrough(ProgressWatching)
	v.image = image
	v.imageAt = time.UnixMilli(header.Timestamp)
}

// Image returns the most recent screenshot, or nil if none arrived yet.
func (v *ProgressView) Image() ([]byte, time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.image, v.imageAt
}

func (v *ProgressView) Snapshot() ProgressSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ProgressSnapshot{
		Steps:       v.steps,
		StepLabels:  stepLabels,
		LastMessage: v.lastMsg,
		Failed:      v.failed,
		Accepted:    v.accepted,
		Busy:        v.busy,
		HasImage:    v.image != nil,
		ImageAt:     v.imageAt,
	}
}

// completeThrough marks steps up to and including idx done. Frames arrive
// in step order per connection, but a resume can skip straight to a later
// step, so everything before it is backfilled.
func (v *ProgressView) completeThrough(idx int) {
	if v.failed {
		return
	}
	for i := 0; i <= idx; i++ {
		v.steps[i] = StepDone
	}
}
