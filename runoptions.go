package agentrun

// Session.Options keys recognized across CLI backends. Backend-specific
// options additionally live under a "<backend>." prefix (e.g.
// "codex.sandbox"); these are the cross-backend ones resolved before any
// backend-specific logic runs.
const (
	// OptionMode sets session intent ("plan" or "act"). Root options (Mode,
	// HITL) take precedence over backend-specific permission/sandbox flags
	// when either is set — see optutil.RootOptionsSet.
	OptionMode = "mode"

	// OptionHITL controls human-in-the-loop behavior ("on" or "off").
	OptionHITL = "hitl"

	// OptionEffort sets the reasoning effort level.
	OptionEffort = "effort"

	// OptionMaxTurns bounds the number of agent turns (maps to --max-turns
	// style flags where the backend supports it).
	OptionMaxTurns = "max_turns"

	// OptionAddDirs is a comma-separated list of extra directories the agent
	// may read/write beyond CWD.
	OptionAddDirs = "add_dirs"

	// OptionAgentID threads an agent/profile identifier through to backends
	// that support named agent configurations.
	OptionAgentID = "agent_id"

	// OptionResumeID carries an engine-native resume identifier distinct
	// from the session ID, for backends whose resume handle isn't the CWD.
	OptionResumeID = "resume_id"

	// OptionSystemPrompt overrides the backend's default system prompt.
	OptionSystemPrompt = "system_prompt"

	// OptionThinkingBudget bounds extended-thinking token spend for backends
	// that support it.
	OptionThinkingBudget = "thinking_budget"
)

// Mode is the session's declared intent.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// Valid reports whether m is a recognized Mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePlan, ModeAct:
		return true
	default:
		return false
	}
}

// HITL toggles human-in-the-loop confirmation for risky actions.
type HITL string

const (
	HITLOn  HITL = "on"
	HITLOff HITL = "off"
)

// Valid reports whether h is a recognized HITL value.
func (h HITL) Valid() bool {
	switch h {
	case HITLOn, HITLOff:
		return true
	default:
		return false
	}
}

// Effort is a reasoning-effort hint passed through to backends that
// support tiered reasoning (e.g. codex).
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
	EffortMax    Effort = "xhigh"
)

// Valid reports whether e is a recognized Effort.
func (e Effort) Valid() bool {
	switch e {
	case EffortLow, EffortMedium, EffortHigh, EffortMax:
		return true
	default:
		return false
	}
}
