package client

import (
	"testing"

	"deskpilot/internal/wire"
)

func success(message string) *wire.Status {
	return &wire.Status{Type: wire.TypeStatus, Status: wire.StatusSuccess, Message: message}
}

func TestProgressFollowsStatusOrder(t *testing.T) {
	v := NewProgressView()

	v.OnStatus(success(wire.MsgOpeningTarget))
	snap := v.Snapshot()
	if snap.Steps[ProgressOpeningTarget] != StepDone {
		t.Errorf("opening-target step = %v, want done", snap.Steps[ProgressOpeningTarget])
	}
	if snap.Steps[ProgressTyping] != StepPending {
		t.Errorf("typing step = %v, want pending", snap.Steps[ProgressTyping])
	}

	v.OnStatus(success(wire.MsgOpeningComposer))
	v.OnStatus(success(wire.MsgTyping))
	v.OnStatus(success(wire.MsgExecuted))
	snap = v.Snapshot()
	for i := ProgressOpeningTarget; i <= ProgressTyping; i++ {
		if snap.Steps[i] != StepDone {
			t.Errorf("step %d = %v, want done", i, snap.Steps[i])
		}
	}
	if snap.Steps[ProgressWatching] != StepPending {
		t.Errorf("watching step done before any screenshot arrived")
	}
	if snap.LastMessage != wire.MsgExecuted {
		t.Errorf("last message = %q", snap.LastMessage)
	}
}

func TestProgressResumeBackfillsEarlierSteps(t *testing.T) {
	v := NewProgressView()
	v.OnStatus(success(wire.MsgResuming))

	snap := v.Snapshot()
	for i := ProgressOpeningTarget; i <= ProgressTyping; i++ {
		if snap.Steps[i] != StepDone {
			t.Errorf("step %d = %v, want done after resume", i, snap.Steps[i])
		}
	}
}

func TestProgressScreenshotAdvancesAndReplacesImage(t *testing.T) {
	v := NewProgressView()

	v.OnScreenshot(&wire.ScreenshotHeader{Type: wire.TypeScreenshot, Timestamp: 1700000000000}, []byte{0x01})
	v.OnScreenshot(&wire.ScreenshotHeader{Type: wire.TypeScreenshot, Timestamp: 1700000003000}, []byte{0x02, 0x03})

	snap := v.Snapshot()
	if snap.Steps[ProgressWatching] != StepDone {
		t.Errorf("watching step = %v, want done", snap.Steps[ProgressWatching])
	}
	img, at := v.Image()
	if len(img) != 2 || img[0] != 0x02 {
		t.Errorf("stored image = % x, want the replacement", img)
	}
	if at.UnixMilli() != 1700000003000 {
		t.Errorf("image timestamp = %d", at.UnixMilli())
	}
}

func TestProgressErrorMarksAllFailed(t *testing.T) {
	v := NewProgressView()
	v.OnStatus(success(wire.MsgOpeningTarget))
	v.OnStatus(&wire.Status{
		Type:    wire.TypeStatus,
		Status:  wire.StatusError,
		Message: "Failed to execute command: injection error",
	})

	snap := v.Snapshot()
	if !snap.Failed {
		t.Fatal("view not marked failed")
	}
	for i, st := range snap.Steps {
		if st != StepFailed {
			t.Errorf("step %d = %v, want failed", i, st)
		}
	}

	// Later frames must not resurrect a failed view.
	v.OnStatus(success(wire.MsgTyping))
	if v.Snapshot().Steps[ProgressTyping] != StepFailed {
		t.Error("failed view advanced on a later success frame")
	}
}

func TestProgressBusyAndAccepted(t *testing.T) {
	v := NewProgressView()
	v.OnStatus(&wire.Status{Type: wire.TypeStatus, Status: wire.StatusError, Message: wire.MsgBusy})
	snapBusy := v.Snapshot()
	if !snapBusy.Busy || !snapBusy.Failed {
		t.Errorf("busy rejection: busy=%v failed=%v, want both true", snapBusy.Busy, snapBusy.Failed)
	}

	v = NewProgressView()
	v.OnStatus(success(wire.MsgAccepted))
	snap := v.Snapshot()
	if !snap.Accepted {
		t.Error("accepted not recorded")
	}
	if snap.Steps[ProgressWatching] != StepDone {
		t.Error("accept should complete the watching step")
	}
}
