// Package optutil provides shared option resolution helpers for CLI backends.
package optutil

import (
	"fmt"

	"github.com/takopi/takopi"
)

// RootOptionsSet reports whether either OptionMode or OptionHITL is present
// in opts. When true, root options take precedence over backend-specific
// permission/sandbox options.
func RootOptionsSet(opts map[string]string) bool {
	return opts[agentrun.OptionMode] != "" || opts[agentrun.OptionHITL] != ""
}

// ValidateEffort checks that OptionEffort, if set, is a recognized Effort
// value. backendName is used only to prefix the error message.
func ValidateEffort(backendName string, opts map[string]string) error {
	if e := agentrun.Effort(opts[agentrun.OptionEffort]); e != "" && !e.Valid() {
		return fmt.Errorf("%s: invalid effort %q", backendName, e)
	}
	return nil
}

// ValidateModeHITL checks that OptionMode and OptionHITL, if set, are
// recognized values. backendName is used only to prefix error messages.
func ValidateModeHITL(backendName string, opts map[string]string) error {
	if mode := agentrun.Mode(opts[agentrun.OptionMode]); mode != "" && !mode.Valid() {
		return fmt.Errorf("%s: unknown mode %q: valid: plan, act", backendName, mode)
	}
	if hitl := agentrun.HITL(opts[agentrun.OptionHITL]); hitl != "" && !hitl.Valid() {
		return fmt.Errorf("%s: unknown hitl %q: valid: on, off", backendName, hitl)
	}
	return nil
}
