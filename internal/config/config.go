package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"deskpilot/internal/automation"
	"deskpilot/internal/session"
)

const configFileName = "config.toml"

// Config is the on-disk configuration. Zero fields are filled with defaults
// on load; durations are expressed in milliseconds so the file stays plain.
type Config struct {
	Port            int                  `toml:"port"`
	StaticDir       string               `toml:"static_dir"`
	DBPath          string               `toml:"db_path"`
	TargetApp       string               `toml:"target_app"`
	ComposerCommand string               `toml:"composer_command"`
	Shortcuts       automation.Shortcuts `toml:"shortcuts"`
	Timing          TimingConfig         `toml:"timing"`
}

// TimingConfig mirrors session.Timing in milliseconds.
type TimingConfig struct {
	LauncherSettleMs  int `toml:"launcher_settle_ms"`
	AppNameSettleMs   int `toml:"app_name_settle_ms"`
	AppLaunchSettleMs int `toml:"app_launch_settle_ms"`
	PaletteSettleMs   int `toml:"palette_settle_ms"`
	PaletteCmdMs      int `toml:"palette_cmd_ms"`
	ComposerSettleMs  int `toml:"composer_settle_ms"`
	MessageSettleMs   int `toml:"message_settle_ms"`
	FollowUpSettleMs  int `toml:"follow_up_settle_ms"`
	SubmitSettleMs    int `toml:"submit_settle_ms"`
	AppNameDelayMs    int `toml:"app_name_delay_ms"`
	MessageDelayMs    int `toml:"message_delay_ms"`
}

// SessionTiming converts the millisecond fields into a session.Timing.
func (t TimingConfig) SessionTiming() session.Timing {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return session.Timing{
		LauncherSettle:  ms(t.LauncherSettleMs),
		AppNameSettle:   ms(t.AppNameSettleMs),
		AppLaunchSettle: ms(t.AppLaunchSettleMs),
		PaletteSettle:   ms(t.PaletteSettleMs),
		PaletteCmd:      ms(t.PaletteCmdMs),
		ComposerSettle:  ms(t.ComposerSettleMs),
		MessageSettle:   ms(t.MessageSettleMs),
		FollowUpSettle:  ms(t.FollowUpSettleMs),
		SubmitSettle:    ms(t.SubmitSettleMs),
		AppNameDelay:    ms(t.AppNameDelayMs),
		MessageDelay:    ms(t.MessageDelayMs),
	}
}

// Store loads and saves the config file in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, configFileName)
}

// LoadOrInit reads the config file, writing one with defaults when it does
// not exist yet.
func (s *Store) LoadOrInit() (Config, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Config{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg Config
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
		return normalize(cfg), nil
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := normalize(Config{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Store) Save(cfg Config) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalize(cfg))
}

// ApplyEnv layers process-environment overrides on top of a loaded config.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TARGET_APP"); v != "" {
		cfg.TargetApp = v
	}
	return cfg
}

func normalize(cfg Config) Config {
	if cfg.Port <= 0 {
		cfg.Port = 8420
	}
	if strings.TrimSpace(cfg.StaticDir) == "" {
		cfg.StaticDir = "./static"
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = "deskpilot.db"
	}
	if strings.TrimSpace(cfg.TargetApp) == "" {
		cfg.TargetApp = "cursor"
	}
	if strings.TrimSpace(cfg.ComposerCommand) == "" {
		cfg.ComposerCommand = "composer.createNew"
	}
	if cfg.Shortcuts.OpenLauncher.Key == "" || cfg.Shortcuts.CommandPalette.Key == "" {
		defaults := automation.DefaultShortcuts(runtime.GOOS)
		if cfg.Shortcuts.OpenLauncher.Key == "" {
			cfg.Shortcuts.OpenLauncher = defaults.OpenLauncher
		}
		if cfg.Shortcuts.CommandPalette.Key == "" {
			cfg.Shortcuts.CommandPalette = defaults.CommandPalette
		}
	}
	cfg.Timing = normalizeTiming(cfg.Timing)
	return cfg
}

func normalizeTiming(t TimingConfig) TimingConfig {
	def := session.DefaultTiming()
	fill := func(v *int, d time.Duration) {
		if *v <= 0 {
			*v = int(d / time.Millisecond)
		}
	}
	fill(&t.LauncherSettleMs, def.LauncherSettle)
	fill(&t.AppNameSettleMs, def.AppNameSettle)
	fill(&t.AppLaunchSettleMs, def.AppLaunchSettle)
	fill(&t.PaletteSettleMs, def.PaletteSettle)
	fill(&t.PaletteCmdMs, def.PaletteCmd)
	fill(&t.ComposerSettleMs, def.ComposerSettle)
	fill(&t.MessageSettleMs, def.MessageSettle)
	fill(&t.FollowUpSettleMs, def.FollowUpSettle)
	fill(&t.SubmitSettleMs, def.SubmitSettle)
	fill(&t.AppNameDelayMs, def.AppNameDelay)
	fill(&t.MessageDelayMs, def.MessageDelay)
	return t
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
