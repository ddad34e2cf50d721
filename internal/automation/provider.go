// Package automation performs screen capture and synthetic input against the
// desktop the server runs on.
package automation

import (
	"context"
	"errors"
	"time"
)

// ErrCapture reports a failed screen capture.
var ErrCapture = errors.New("screen capture failed")

// ErrInjection reports a failed synthetic input action.
var ErrInjection = errors.New("input injection failed")

// Modifier keys, named as the desktop automation layer expects them.
const (
	ModCommand = "command"
	ModControl = "control"
	ModShift   = "shift"
)

// Provider performs the platform actions the automation session drives.
// Capture must be safe to call concurrently; injection calls are issued by a
// single driver at a time.
type Provider interface {
	// Capture grabs the screen and returns encoded image bytes.
	Capture(ctx context.Context) ([]byte, error)

	// TypeText types the text one character at a time, pausing perCharDelay
	// between characters.
	TypeText(ctx context.Context, text string, perCharDelay time.Duration) error

	// PressKey taps a single key with optional modifiers held.
	PressKey(ctx context.Context, key string, modifiers ...string) error
}
