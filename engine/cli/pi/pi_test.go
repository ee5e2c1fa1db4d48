package pi

import (
	"strings"
	"testing"

	"github.com/takopi/takopi"
)

func TestSpawnArgsIncludesModelAndProvider(t *testing.T) {
	b := New(WithModel("gpt-5"), WithProvider("openai"))
	binary, args := b.SpawnArgs(agentrun.Session{Prompt: "hello"})

	if binary != "pi" {
		t.Fatalf("binary = %q, want pi", binary)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "hello") {
		t.Fatalf("args missing prompt: %v", args)
	}
	if !strings.Contains(joined, "--model") || !strings.Contains(joined, "gpt-5") {
		t.Fatalf("args missing --model: %v", args)
	}
	if !strings.Contains(joined, "--provider") || !strings.Contains(joined, "openai") {
		t.Fatalf("args missing --provider: %v", args)
	}
}

func TestSpawnArgsResumesDirectlyWithOptionResumeID(t *testing.T) {
	b := New()
	session := agentrun.Session{
		Prompt:  "continue please",
		Options: map[string]string{agentrun.OptionResumeID: "/tmp/pi-sessions/abc.jsonl"},
	}
	_, args := b.SpawnArgs(session)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--continue") || !strings.Contains(joined, "abc.jsonl") {
		t.Fatalf("args missing direct resume: %v", args)
	}
}

func TestResumeArgsRequiresSessionFile(t *testing.T) {
	b := New()
	if _, _, err := b.ResumeArgs(agentrun.Session{}, "hi"); err == nil {
		t.Fatal("expected error with no session file available")
	}
}

func TestResumeArgsUsesOptionResumeID(t *testing.T) {
	b := New()
	session := agentrun.Session{Options: map[string]string{agentrun.OptionResumeID: "/tmp/pi-sessions/abc123.jsonl"}}
	_, args, err := b.ResumeArgs(session, "hi")
	if err != nil {
		t.Fatalf("ResumeArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--continue") || !strings.Contains(joined, "abc123.jsonl") {
		t.Fatalf("args missing --continue session file: %v", args)
	}
}

func TestParseLineCapturesSessionFileFromMessageEnd(t *testing.T) {
	b := New()
	msg, err := b.ParseLine(`{"type":"message_end","text":"done","session_file":"/tmp/pi-sessions/xyz.jsonl"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Type != agentrun.MessageResult || msg.Content != "done" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if p := b.sessionFile.Load(); p == nil || *p != "/tmp/pi-sessions/xyz.jsonl" {
		t.Fatalf("session file not captured: %v", p)
	}

	// Resuming a session: message_end omits session_file, captured value
	// stays pinned to the first one seen.
	_, err = b.ParseLine(`{"type":"message_end","text":"more"}`)
	if err != nil {
		t.Fatalf("ParseLine second: %v", err)
	}
	if p := b.sessionFile.Load(); p == nil || *p != "/tmp/pi-sessions/xyz.jsonl" {
		t.Fatalf("session file should remain pinned: %v", p)
	}
}

func TestParseLineToolCallAndResult(t *testing.T) {
	b := New()
	msg, err := b.ParseLine(`{"type":"tool_call","name":"read_file","input":{"path":"a.go"}}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Type != agentrun.MessageToolUse || msg.Tool == nil || msg.Tool.Name != "read_file" {
		t.Fatalf("unexpected tool_call message: %+v", msg)
	}

	msg2, err := b.ParseLine(`{"type":"tool_result","name":"read_file","output":"package main"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg2.Type != agentrun.MessageToolResult || msg2.Tool == nil {
		t.Fatalf("unexpected tool_result message: %+v", msg2)
	}
}

func TestParseLineError(t *testing.T) {
	b := New()
	msg, err := b.ParseLine(`{"type":"error","message":"provider timeout"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Type != agentrun.MessageError || !strings.Contains(msg.Content, "provider timeout") {
		t.Fatalf("unexpected error message: %+v", msg)
	}
}

func TestParseLineBlankSkipped(t *testing.T) {
	b := New()
	if _, err := b.ParseLine("  "); err == nil {
		t.Fatal("expected ErrSkipLine")
	}
}
