package automation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	darwinCaptureBinary = "/usr/sbin/screencapture"
	linuxCaptureBinary  = "scrot"
	linuxInputBinary    = "xdotool"
)

// ExecProvider drives the desktop through platform command-line tools:
// screencapture + osascript on macOS, scrot + xdotool elsewhere.
type ExecProvider struct {
	goos    string
	tempDir string
}

// NewExecProvider creates a provider for the current platform.
func NewExecProvider() *ExecProvider {
	return &ExecProvider{
		goos:    runtime.GOOS,
		tempDir: os.TempDir(),
	}
}

// Capture writes a screenshot to a temp file, reads it back, and removes it.
// Each call uses its own file so concurrent captures do not collide.
func (p *ExecProvider) Capture(ctx context.Context) ([]byte, error) {
	path := filepath.Join(p.tempDir, fmt.Sprintf("deskpilot_%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	var cmd *exec.Cmd
	if p.goos == "darwin" {
		cmd = exec.CommandContext(ctx, darwinCaptureBinary, "-x", "-C", "-t", "png", path)
	} else {
		cmd = exec.CommandContext(ctx, linuxCaptureBinary, "-o", path)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read capture file: %v", ErrCapture, err)
	}
	return data, nil
}

// TypeText types the text character by character, matching how a human would
// feed an input field that reacts to individual keystrokes.
func (p *ExecProvider) TypeText(ctx context.Context, text string, perCharDelay time.Duration) error {
	for _, r := range text {
		if err := p.typeChar(ctx, r); err != nil {
			return err
		}
		select {
		case <-time.After(perCharDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrInjection, ctx.Err())
		}
	}
	return nil
}

func (p *ExecProvider) typeChar(ctx context.Context, r rune) error {
	var cmd *exec.Cmd
	if p.goos == "darwin" {
		script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, string(r))
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	} else {
		cmd = exec.CommandContext(ctx, linuxInputBinary, "type", "--", string(r))
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: type %q: %v", ErrInjection, r, err)
	}
	return nil
}

// PressKey taps a key with the given modifiers held.
func (p *ExecProvider) PressKey(ctx context.Context, key string, modifiers ...string) error {
	var cmd *exec.Cmd
	if p.goos == "darwin" {
		cmd = exec.CommandContext(ctx, "osascript", "-e", darwinKeyScript(key, modifiers))
	} else {
		cmd = exec.CommandContext(ctx, linuxInputBinary, "key", "--clearmodifiers", linuxKeyChord(key, modifiers))
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: press %s: %v", ErrInjection, key, err)
	}
	return nil
}

// darwinKeyCodes maps named keys to macOS virtual key codes for keys that
// osascript cannot express as a keystroke character.
var darwinKeyCodes = map[string]int{
	"enter": 36,
	"space": 49,
	"tab":   48,
	"esc":   53,
}

func darwinKeyScript(key string, modifiers []string) string {
	var using string
	if len(modifiers) > 0 {
		downs := make([]string, len(modifiers))
		for i, m := range modifiers {
			downs[i] = m + " down"
		}
		using = " using {" + strings.Join(downs, ", ") + "}"
	}

	if code, ok := darwinKeyCodes[key]; ok {
		return fmt.Sprintf(`tell application "System Events" to key code %d%s`, code, using)
	}
	return fmt.Sprintf(`tell application "System Events" to keystroke %q%s`, key, using)
}

func linuxKeyChord(key string, modifiers []string) string {
	// xdotool takes chords as ctrl+shift+p.
	names := map[string]string{
		ModCommand: "super",
		ModControl: "ctrl",
		ModShift:   "shift",
		"enter":    "Return",
		"space":    "space",
	}
	parts := make([]string, 0, len(modifiers)+1)
	for _, m := range modifiers {
		if n, ok := names[m]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, m)
		}
	}
	if n, ok := names[key]; ok {
		parts = append(parts, n)
	} else {
		parts = append(parts, key)
	}
	return strings.Join(parts, "+")
}
