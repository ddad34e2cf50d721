package automation

// Shortcut is a single key chord.
type Shortcut struct {
	Key       string   `toml:"key"`
	Modifiers []string `toml:"modifiers"`
}

// Shortcuts holds the chords the automation sequence needs. They differ
// between macOS and everything else.
type Shortcuts struct {
	// OpenLauncher brings up the application launcher (Raycast / Start).
	OpenLauncher Shortcut `toml:"open_launcher"`

	// CommandPalette opens the editor's command palette.
	CommandPalette Shortcut `toml:"command_palette"`
}

// DefaultShortcuts returns the chord table for the given GOOS.
func DefaultShortcuts(goos string) Shortcuts {
	if goos == "darwin" {
		return Shortcuts{
			OpenLauncher:   Shortcut{Key: "space", Modifiers: []string{ModCommand}},
			CommandPalette: Shortcut{Key: "p", Modifiers: []string{ModCommand, ModShift}},
		}
	}
	return Shortcuts{
		OpenLauncher:   Shortcut{Key: "super"},
		CommandPalette: Shortcut{Key: "p", Modifiers: []string{ModControl, ModShift}},
	}
}
