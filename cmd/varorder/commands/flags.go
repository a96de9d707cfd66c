package commands

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

// ErrMissingFlag is returned when a required value is neither flagged nor configured.
var ErrMissingFlag = errors.New("missing required value")

// Flags override config values only when explicitly set.

func overrideString(flags *pflag.FlagSet, name string, dst *string, v string) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int, v int) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideInt64(flags *pflag.FlagSet, name string, dst *int64, v int64) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideBool(flags *pflag.FlagSet, name string, dst *bool, v bool) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideDuration(flags *pflag.FlagSet, name string, dst *time.Duration, v time.Duration) {
	if flags.Changed(name) {
		*dst = v
	}
}
