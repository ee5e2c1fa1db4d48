// Package cursor provides a Cursor CLI ("agent") backend for agentrun.
//
// This backend implements cli.Spawner, cli.Parser, and cli.Resumer to drive
// Cursor's headless agent CLI as a subprocess, translating its ndjson
// output into agentrun.Message values. Like Codex, Cursor's agent exits
// after one turn; multi-turn conversation uses resume-per-turn via
// "agent --resume <session_id>".
//
// # Event types
//
// The agent CLI emits JSONL events with a top-level "type" field:
// thinking (subtype delta/completed), assistant (message.content[]),
// tool_call (name, input), tool_result (name, output), result (subtype
// success/error, result, is_error). Every event carries "session_id";
// the first non-empty occurrence is captured as the resume handle.
package cursor
