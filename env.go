package agentrun

import (
	"fmt"
	"strings"
)

// ValidateEnv checks that env entries are well-formed "KEY=VALUE" pairs
// with non-empty, null-byte-free keys. A nil or empty map is always valid.
func ValidateEnv(env map[string]string) error {
	for k, v := range env {
		if k == "" {
			return fmt.Errorf("agentrun: environment variable name must not be empty")
		}
		if strings.ContainsRune(k, '=') || strings.ContainsRune(k, '\x00') {
			return fmt.Errorf("agentrun: invalid environment variable name %q", k)
		}
		if strings.ContainsRune(v, '\x00') {
			return fmt.Errorf("agentrun: environment variable %q contains a null byte", k)
		}
	}
	return nil
}

// MergeEnv overlays overrides onto base (a "KEY=VALUE" slice, typically
// os.Environ()), returning a new slice suitable for exec.Cmd.Env. Overrides
// replace any existing entry with the same key; base entries are otherwise
// preserved in their original order, with new keys appended.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	remaining := make(map[string]string, len(overrides))
	for k, v := range overrides {
		remaining[k] = v
	}
	merged := make([]string, 0, len(base)+len(remaining))
	for _, kv := range base {
		key, _, found := strings.Cut(kv, "=")
		if !found {
			merged = append(merged, kv)
			continue
		}
		if v, ok := remaining[key]; ok {
			merged = append(merged, key+"="+v)
			delete(remaining, key)
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range remaining {
		merged = append(merged, k+"="+v)
	}
	return merged
}
