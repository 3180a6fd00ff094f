// Package config loads scripthost session files (YAML or JSON).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/scripthost/pkg/adapters/process"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogDir   = "./log"
	DefaultLogLevel = "info"
)

// Autostart values.
const (
	AutostartNone   = ""
	AutostartRun    = "run"
	AutostartRepeat = "repeat"
)

// File is the root of a session file.
type File struct {
	LogDir      string                  `mapstructure:"log_dir"`
	LogLevel    string                  `mapstructure:"log_level"`
	SnapshotDir string                  `mapstructure:"snapshot_dir"`
	Redis       Redis                   `mapstructure:"redis"`
	Tools       []process.ProcessConfig `mapstructure:"tools"`
	Sessions    []Session               `mapstructure:"sessions"`
}

// Redis configures the shared snapshot store and locks. An empty Addr disables Redis.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Session describes one Coordinator.
type Session struct {
	Name         string        `mapstructure:"name"`
	ScriptDir    string        `mapstructure:"script_dir"`
	Script       string        `mapstructure:"script"`
	Threaded     bool          `mapstructure:"threaded"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Autostart    string        `mapstructure:"autostart"`
}

// Load reads and validates a session file. The format follows the extension:
// .json is JSON, anything else is YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}
	return Decode(raw)
}

// Decode converts a generic map into a validated File with defaults applied.
func Decode(raw map[string]any) (*File, error) {
	var cfg File
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *File) applyDefaults() {
	if f.LogDir == "" {
		f.LogDir = DefaultLogDir
	}
	if f.LogLevel == "" {
		f.LogLevel = DefaultLogLevel
	}
	if f.Redis.Prefix == "" {
		f.Redis.Prefix = "scripthost:"
	}
}

// Validate reports every problem found, joined.
func (f *File) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, s := range f.Sessions {
		label := fmt.Sprintf("sessions[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else {
			label = fmt.Sprintf("session %q", s.Name)
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", label))
			}
			seen[s.Name] = true
		}
		if s.ScriptDir == "" {
			errs = append(errs, fmt.Errorf("%s: script_dir is required", label))
		}
		if s.Script == "" {
			errs = append(errs, fmt.Errorf("%s: script is required", label))
		}
		switch s.Autostart {
		case AutostartNone, AutostartRun, AutostartRepeat:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown autostart %q", label, s.Autostart))
		}
		if s.Autostart == AutostartRepeat && !s.Threaded {
			errs = append(errs, fmt.Errorf("%s: autostart repeat requires threaded", label))
		}
		if s.PollInterval < 0 {
			errs = append(errs, fmt.Errorf("%s: poll_interval must not be negative", label))
		}
	}
	for i, t := range f.Tools {
		if t.Name == "" || t.Command == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name and command are required", i))
		}
	}
	return errors.Join(errs...)
}
