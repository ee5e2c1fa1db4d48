// Package pi provides a "pi" CLI backend for agentrun.
//
// This backend implements cli.Spawner, cli.Parser, and cli.Resumer. Like
// Codex and Cursor, pi's CLI exits after one turn; multi-turn conversation
// resumes via "pi --continue <session_file>". Session identity is the
// JSONL transcript file name pi itself writes, auto-captured from the
// first message_end event's "session_file" field.
package pi
