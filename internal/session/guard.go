package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"deskpilot/internal/automation"
	"deskpilot/internal/wire"
)

// ErrSessionBusy is returned when a submit arrives while a different prompt
// owns the session. Commands are rejected, never queued: there is one physical
// desktop and stacking automation runs against it helps nobody.
var ErrSessionBusy = errors.New("session busy with another prompt")

// errSessionLost aborts a drive whose session was reset underneath it.
var errSessionLost = errors.New("session no longer owned by this prompt")

// Timing holds the pauses between synthetic actions. The desktop needs real
// time to react to input; these are automation semantics, not I/O waits.
type Timing struct {
	LauncherSettle  time.Duration // after the launcher chord
	AppNameSettle   time.Duration // after typing the app name
	AppLaunchSettle time.Duration // after confirming the launcher entry
	PaletteSettle   time.Duration // after the command palette chord
	PaletteCmd      time.Duration // after typing the palette command
	ComposerSettle  time.Duration // after opening the composer
	MessageSettle   time.Duration // after typing a new prompt
	FollowUpSettle  time.Duration // after typing a follow-up
	SubmitSettle    time.Duration // after submitting a follow-up
	AppNameDelay    time.Duration // per character while typing app names
	MessageDelay    time.Duration // per character while typing prompt text
}

// DefaultTiming matches the cadence a real desktop keeps up with.
func DefaultTiming() Timing {
	return Timing{
		LauncherSettle:  800 * time.Millisecond,
		AppNameSettle:   200 * time.Millisecond,
		AppLaunchSettle: 1500 * time.Millisecond,
		PaletteSettle:   500 * time.Millisecond,
		PaletteCmd:      300 * time.Millisecond,
		ComposerSettle:  800 * time.Millisecond,
		MessageSettle:   300 * time.Millisecond,
		FollowUpSettle:  100 * time.Millisecond,
		SubmitSettle:    500 * time.Millisecond,
		AppNameDelay:    20 * time.Millisecond,
		MessageDelay:    15 * time.Millisecond,
	}
}

// Config configures a Guard.
type Config struct {
	Provider automation.Provider

	// Shortcuts returns the current chord table. Called per drive so config
	// hot reloads take effect without restarting the session.
	Shortcuts func() automation.Shortcuts

	Timing Timing

	// TargetApp is the name typed into the launcher. Defaults to "cursor".
	TargetApp string

	// ComposerCommand is the palette command that opens the input surface.
	// Defaults to "composer.createNew".
	ComposerCommand string
}

// Guard owns the Session and serializes all mutation. Exactly one driver
// executes automation steps at a time; concurrent submits for a different
// prompt are rejected immediately with ErrSessionBusy.
type Guard struct {
	provider  automation.Provider
	shortcuts func() automation.Shortcuts
	timing    Timing
	targetApp string
	composer  string

	// mu guards sess. driveMu serializes step execution and accept; it is
	// never taken on the rejection path, so busy submits return without
	// blocking behind the running driver.
	mu      sync.Mutex
	driveMu sync.Mutex
	sess    Session
}

// NewGuard creates a Guard around a fresh idle Session.
func NewGuard(cfg Config) *Guard {
	if cfg.Shortcuts == nil {
		sc := automation.DefaultShortcuts(runtime.GOOS)
		cfg.Shortcuts = func() automation.Shortcuts { return sc }
	}
	if cfg.TargetApp == "" {
		cfg.TargetApp = "cursor"
	}
	if cfg.ComposerCommand == "" {
		cfg.ComposerCommand = "composer.createNew"
	}
	return &Guard{
		provider:  cfg.Provider,
		shortcuts: cfg.Shortcuts,
		timing:    cfg.Timing,
		targetApp: cfg.TargetApp,
		composer:  cfg.ComposerCommand,
		sess:      Session{Step: StepIdle},
	}
}

// SubmitRequest is one command from a client.
type SubmitRequest struct {
	PromptID    int64
	Message     string
	IsNewPrompt bool
}

// SubmitResult reports where the session ended up after a submit.
type SubmitResult struct {
	Resumed       bool
	Step          Step
	LastCaptureAt time.Time
}

// Submit admits, resumes, or rejects a command.
//
// A new prompt whose id already owns the session is an idempotent resume: the
// triggering connection dropped and came back mid-run, and replaying
// keystrokes against the desktop would type the prompt twice. A submit for a
// different prompt while one is active is rejected with ErrSessionBusy
// without touching session state. Otherwise the guard drives the provider
// through the ordered steps, emitting an Event after entering each.
func (g *Guard) Submit(ctx context.Context, req SubmitRequest, emit func(Event)) (SubmitResult, error) {
	g.mu.Lock()
	cur := g.sess

	if req.IsNewPrompt && cur.ActivePromptID != 0 && cur.ActivePromptID == req.PromptID {
		last := cur.LastCaptureAt
		g.mu.Unlock()
		emit(Event{Message: wire.MsgResuming, PromptID: req.PromptID, Step: StepAwaitingResult})
		return SubmitResult{Resumed: true, Step: StepAwaitingResult, LastCaptureAt: last}, nil
	}

	if cur.ActivePromptID != 0 && cur.ActivePromptID != req.PromptID &&
		cur.Step != StepIdle && cur.Step != StepError {
		g.mu.Unlock()
		return SubmitResult{}, ErrSessionBusy
	}

	g.sess.ActivePromptID = req.PromptID
	g.sess.Step = StepConnecting
	g.sess.LastCaptureAt = time.Time{}
	g.mu.Unlock()

	g.driveMu.Lock()
	defer g.driveMu.Unlock()

	if err := g.drive(ctx, req, emit); err != nil {
		if errors.Is(err, errSessionLost) {
			// An accept or last-disconnect reset took the session away
			// mid-drive; the remaining steps are moot.
			return SubmitResult{}, nil
		}
		g.fail(req.PromptID, emit, err)
		return SubmitResult{}, err
	}

	g.mu.Lock()
	res := SubmitResult{Step: g.sess.Step, LastCaptureAt: g.sess.LastCaptureAt}
	g.mu.Unlock()
	return res, nil
}

// drive executes the step sequence for one admitted command.
func (g *Guard) drive(ctx context.Context, req SubmitRequest, emit func(Event)) error {
	sc := g.shortcuts()
	t := g.timing

	if req.IsNewPrompt {
		g.mu.Lock()
		open := g.sess.TargetAppOpen
		g.mu.Unlock()

		if !open {
			if !g.enterStep(req.PromptID, StepOpeningTarget) {
				return errSessionLost
			}
			emit(Event{Message: wire.MsgOpeningTarget, PromptID: req.PromptID, Step: StepOpeningTarget})

			if err := g.provider.PressKey(ctx, sc.OpenLauncher.Key, sc.OpenLauncher.Modifiers...); err != nil {
				return err
			}
			if err := sleep(ctx, t.LauncherSettle); err != nil {
				return err
			}
			if err := g.provider.TypeText(ctx, g.targetApp, t.AppNameDelay); err != nil {
				return err
			}
			if err := sleep(ctx, t.AppNameSettle); err != nil {
				return err
			}
			if err := g.provider.PressKey(ctx, "enter"); err != nil {
				return err
			}
			if err := sleep(ctx, t.AppLaunchSettle); err != nil {
				return err
			}

			g.mu.Lock()
			g.sess.TargetAppOpen = true
			g.mu.Unlock()
		}

		if !g.enterStep(req.PromptID, StepOpeningComposer) {
			return errSessionLost
		}
		emit(Event{Message: wire.MsgOpeningComposer, PromptID: req.PromptID, Step: StepOpeningComposer})

		if err := g.provider.PressKey(ctx, sc.CommandPalette.Key, sc.CommandPalette.Modifiers...); err != nil {
			return err
		}
		if err := sleep(ctx, t.PaletteSettle); err != nil {
			return err
		}
		if err := g.provider.TypeText(ctx, g.composer, t.AppNameDelay); err != nil {
			return err
		}
		if err := sleep(ctx, t.PaletteCmd); err != nil {
			return err
		}
		if err := g.provider.PressKey(ctx, "enter"); err != nil {
			return err
		}
		if err := sleep(ctx, t.ComposerSettle); err != nil {
			return err
		}

		if !g.enterStep(req.PromptID, StepTyping) {
			return errSessionLost
		}
		emit(Event{Message: wire.MsgTyping, PromptID: req.PromptID, Step: StepTyping})

		if err := g.provider.TypeText(ctx, req.Message, t.MessageDelay); err != nil {
			return err
		}
		if err := sleep(ctx, t.MessageSettle); err != nil {
			return err
		}
		if err := g.provider.PressKey(ctx, "enter"); err != nil {
			return err
		}
	} else {
		// Follow-up: the composer is already in front, go straight to typing.
		if !g.enterStep(req.PromptID, StepTyping) {
			return errSessionLost
		}
		emit(Event{Message: wire.MsgTyping, PromptID: req.PromptID, Step: StepTyping})

		if err := g.provider.TypeText(ctx, req.Message, t.MessageDelay); err != nil {
			return err
		}
		if err := sleep(ctx, t.FollowUpSettle); err != nil {
			return err
		}
		if err := g.provider.PressKey(ctx, "enter"); err != nil {
			return err
		}
		if err := sleep(ctx, t.SubmitSettle); err != nil {
			return err
		}
	}

	if !g.enterStep(req.PromptID, StepAwaitingResult) {
		return errSessionLost
	}
	emit(Event{Message: wire.MsgExecuted, PromptID: req.PromptID, Step: StepAwaitingResult})
	return nil
}

// enterStep advances the session, refusing if the prompt lost ownership.
func (g *Guard) enterStep(promptID int64, step Step) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess.ActivePromptID != promptID {
		return false
	}
	g.sess.Step = step
	return true
}

// fail transitions to the error step. The prompt no longer owns the session,
// but TargetAppOpen stands: a failed keystroke does not close the app.
func (g *Guard) fail(promptID int64, emit func(Event), err error) {
	g.mu.Lock()
	g.sess.Step = StepError
	g.sess.ActivePromptID = 0
	g.sess.LastCaptureAt = time.Time{}
	g.mu.Unlock()

	emit(Event{
		Error:    true,
		Message:  fmt.Sprintf("Failed to execute command: %v", err),
		PromptID: promptID,
		Step:     StepError,
	})
}

// Accept commits the pending result and returns the session to idle. Calling
// it with no active session is a no-op. Returns the prompt id that owned the
// session, 0 if none.
func (g *Guard) Accept(ctx context.Context) (int64, error) {
	g.driveMu.Lock()
	defer g.driveMu.Unlock()

	g.mu.Lock()
	if g.sess.Step == StepIdle && g.sess.ActivePromptID == 0 {
		g.mu.Unlock()
		return 0, nil
	}
	promptID := g.sess.ActivePromptID
	g.sess.Step = StepIdle
	g.sess.ActivePromptID = 0
	g.sess.LastCaptureAt = time.Time{}
	g.mu.Unlock()

	if err := g.provider.PressKey(ctx, "enter", automation.ModCommand); err != nil {
		return promptID, fmt.Errorf("commit result: %w", err)
	}
	return promptID, nil
}

// Reset returns the session to its initial state, forgetting the target app.
// Used when the last client disconnects: nobody is watching anymore.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.sess = Session{Step: StepIdle}
	g.mu.Unlock()
}

// RecordCapture notes a successful capture while awaiting a result.
func (g *Guard) RecordCapture(at time.Time) {
	g.mu.Lock()
	if g.sess.Step == StepAwaitingResult {
		g.sess.LastCaptureAt = at
	}
	g.mu.Unlock()
}

// Snapshot returns a copy of the current session state.
func (g *Guard) Snapshot() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sess
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
