// Package config loads and validates the scheduler's config file: a
// single top-level Python dict literal, not JSON -- see DESIGN.md for
// why a dict-literal parser replaces a JSON-based config loader here.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Config holds every key recognized in the scheduler's config file.
type Config struct {
	AllowLocalhost           bool   `validate:""`
	AllowRootEvents          bool   `validate:""`
	CommandSpawnTimeout      int    `validate:"min=1"`
	ErrorOnEmptyCommand      bool   `validate:""`
	LogPath                  string `validate:"required"`
	MaxActivatedEvents       int    `validate:"min=1"`
	MaxChainEvents           int    `validate:"min=1"`
	MaxEmailNotifications    int    `validate:"min=0"`
	MaxEventFileSize         int    `validate:"min=1"`
	MaxEventsPerUser         int    `validate:"min=1"`
	MaxHcronTreeSnapshotSize int    `validate:"min=1"`
	MaxNextEvents            int    `validate:"min=1"`
	MaxQueuedJobs            int    `validate:"min=1"`
	MaxSymlinks              int    `validate:"min=0"`
	NamesToIgnoreRegexp      string `validate:""`
	RemoteShellExec          string `validate:"required"`
	RemoteShellType          string `validate:"eq=ssh"`
	SMTPServer               string `validate:"required"`
	UseSyslog                bool   `validate:""`
}

// Defaults returns the scheduler's built-in configuration defaults.
func Defaults() Config {
	return Config{
		AllowLocalhost:           false,
		AllowRootEvents:          false,
		CommandSpawnTimeout:      15,
		ErrorOnEmptyCommand:      false,
		LogPath:                  "hcron.log",
		MaxActivatedEvents:       20,
		MaxChainEvents:           5,
		MaxEmailNotifications:    16,
		MaxEventFileSize:         5000,
		MaxEventsPerUser:         25,
		MaxHcronTreeSnapshotSize: 262144,
		MaxNextEvents:            8,
		MaxQueuedJobs:            100000,
		MaxSymlinks:              8,
		NamesToIgnoreRegexp:      "",
		RemoteShellExec:          "/usr/bin/ssh",
		RemoteShellType:          "ssh",
		SMTPServer:               "localhost",
		UseSyslog:                false,
	}
}

var keySetters = map[string]func(*Config, literalValue) error{
	"allow_localhost":              func(c *Config, v literalValue) error { return setBool(&c.AllowLocalhost, v) },
	"allow_root_events":            func(c *Config, v literalValue) error { return setBool(&c.AllowRootEvents, v) },
	"command_spawn_timeout":        func(c *Config, v literalValue) error { return setInt(&c.CommandSpawnTimeout, v) },
	"error_on_empty_command":       func(c *Config, v literalValue) error { return setBool(&c.ErrorOnEmptyCommand, v) },
	"log_path":                     func(c *Config, v literalValue) error { return setString(&c.LogPath, v) },
	"max_activated_events":         func(c *Config, v literalValue) error { return setInt(&c.MaxActivatedEvents, v) },
	"max_chain_events":             func(c *Config, v literalValue) error { return setInt(&c.MaxChainEvents, v) },
	"max_email_notifications":      func(c *Config, v literalValue) error { return setInt(&c.MaxEmailNotifications, v) },
	"max_event_file_size":          func(c *Config, v literalValue) error { return setInt(&c.MaxEventFileSize, v) },
	"max_events_per_user":          func(c *Config, v literalValue) error { return setInt(&c.MaxEventsPerUser, v) },
	"max_hcron_tree_snapshot_size": func(c *Config, v literalValue) error { return setInt(&c.MaxHcronTreeSnapshotSize, v) },
	"max_next_events":              func(c *Config, v literalValue) error { return setInt(&c.MaxNextEvents, v) },
	"max_queued_jobs":              func(c *Config, v literalValue) error { return setInt(&c.MaxQueuedJobs, v) },
	"max_symlinks":                 func(c *Config, v literalValue) error { return setInt(&c.MaxSymlinks, v) },
	"names_to_ignore_regexp":       func(c *Config, v literalValue) error { return setString(&c.NamesToIgnoreRegexp, v) },
	"remote_shell_exec":            func(c *Config, v literalValue) error { return setString(&c.RemoteShellExec, v) },
	"remote_shell_type":            func(c *Config, v literalValue) error { return setString(&c.RemoteShellType, v) },
	"smtp_server":                  func(c *Config, v literalValue) error { return setString(&c.SMTPServer, v) },
	"use_syslog":                   func(c *Config, v literalValue) error { return setBool(&c.UseSyslog, v) },
}

func setBool(dst *bool, v literalValue) error {
	if v.kind != kindBool {
		return errors.New("expected bool")
	}
	*dst = v.b
	return nil
}

func setInt(dst *int, v literalValue) error {
	if v.kind != kindInt {
		return errors.New("expected int")
	}
	*dst = int(v.i)
	return nil
}

func setString(dst *string, v literalValue) error {
	if v.kind != kindString {
		return errors.New("expected string")
	}
	*dst = v.s
	return nil
}

// Load reads the config file at path, a Python dict literal, applies it
// over Defaults(), and validates the result. An absent path is not an
// error: the daemon should run with Defaults() when no config file has
// been installed yet.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %q", path)
	}

	fields, err := parseLiteralDict(string(data))
	if err != nil {
		return cfg, errors.Wrapf(err, "parse config %q", path)
	}

	for key, val := range fields {
		setter, ok := keySetters[key]
		if !ok {
			continue // unknown keys are ignored, matching the original's dict.get() defaulting
		}
		if err := setter(&cfg, val); err != nil {
			return cfg, errors.Wrapf(err, "config key %q", key)
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "validate config %q", path)
	}
	return cfg, nil
}

var validate = validator.New()
