package cli

import "github.com/takopi/takopi"

// Backend is the minimal contract every CLI subprocess engine must satisfy:
// build the binary/argv for a fresh session and parse one raw output line
// into an agentrun.Message.
//
// Optional capabilities (Resumer, Streamer, InputFormatter) are detected by
// type assertion in resolveCapabilities.
type Backend interface {
	Spawner
	Parser
}

// Spawner builds exec.Cmd arguments to start a fresh session.
type Spawner interface {
	// SpawnArgs returns the binary name (resolved via exec.LookPath) and its
	// arguments for starting session from scratch. Must not panic on a zero
	// Session — Engine.Validate calls it with an empty Session to probe the
	// binary name only.
	SpawnArgs(session agentrun.Session) (binary string, args []string)
}

// Parser transforms one raw subprocess output line into an agentrun.Message.
// Returning ErrSkipLine causes the line to be silently dropped (no message
// emitted), used for blank lines and framing noise that carries no content.
type Parser interface {
	ParseLine(line string) (agentrun.Message, error)
}

// Resumer resumes an existing session, either by replacing the running
// subprocess mid-turn or by spawning a fresh subprocess per turn.
type Resumer interface {
	ResumeArgs(session agentrun.Session, initialPrompt string) (binary string, args []string, err error)
}

// Streamer attaches to a running subprocess's stdin for multi-turn
// conversation without spawning a new process per turn. Requires
// InputFormatter to also be implemented.
type Streamer interface {
	StreamArgs(session agentrun.Session) (binary string, args []string)
}

// InputFormatter encodes a follow-up user message for a Streamer's stdin.
type InputFormatter interface {
	FormatInput(message string) ([]byte, error)
}
