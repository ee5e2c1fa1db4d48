// Package transcribe shells out to a local Whisper-compatible CLI to turn
// a voice message into text. It bundles no speech model; if no such CLI
// is installed, IsAvailable reports so and callers skip transcription
// entirely.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrTranscriptionFailed wraps a whisper run that timed out or exited
// non-zero; the wrapped text carries a trimmed stderr tail.
var ErrTranscriptionFailed = errors.New("transcribe: whisper failed")

const defaultTimeout = 120 * time.Second

// Config selects the whisper model and optional language hint.
type Config struct {
	Model    string // default "base"
	Language string // empty lets whisper auto-detect
}

// whisperBinEnv overrides binary discovery, mainly for tests.
const whisperBinEnv = "TAKOPI_WHISPER_BIN"

// findWhisper locates the whisper executable: an explicit override first,
// then PATH, falling back to the bare name so exec surfaces a clear
// "not found" error at call time rather than here.
func findWhisper() string {
	if override := os.Getenv(whisperBinEnv); override != "" {
		return override
	}
	if path, err := exec.LookPath("whisper"); err == nil {
		return path
	}
	return "whisper"
}

// IsAvailable reports whether the whisper binary can be run at all.
func IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, findWhisper(), "--help")
	return cmd.Run() == nil
}

// Transcribe writes audioData to a temp file and runs whisper against it,
// returning the transcript. model defaults to "base" when cfg.Model is
// empty.
func Transcribe(ctx context.Context, audioData []byte, cfg Config) (string, error) {
	model := cfg.Model
	if model == "" {
		model = "base"
	}

	tmpDir, err := os.MkdirTemp("", "takopi-transcribe-*")
	if err != nil {
		return "", fmt.Errorf("transcribe: failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputFile := filepath.Join(tmpDir, "voice.ogg")
	if err := os.WriteFile(inputFile, audioData, 0o600); err != nil {
		return "", fmt.Errorf("transcribe: failed to write audio: %w", err)
	}

	args := []string{
		inputFile,
		"--model", model,
		"--output_dir", tmpDir,
		"--output_format", "txt",
	}
	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, findWhisper(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: timed out after %s", ErrTranscriptionFailed, defaultTimeout)
	}
	if runErr != nil {
		return "", fmt.Errorf("%w: %s", ErrTranscriptionFailed, stderrTail(stderr.String()))
	}

	outputFile := filepath.Join(tmpDir, "voice.txt")
	if _, err := os.Stat(outputFile); err != nil {
		// whisper may have named the output differently.
		matches, _ := filepath.Glob(filepath.Join(tmpDir, "*.txt"))
		if len(matches) == 0 {
			return "", fmt.Errorf("%w: no transcription output found", ErrTranscriptionFailed)
		}
		outputFile = matches[0]
	}

	text, err := os.ReadFile(outputFile)
	if err != nil {
		return "", fmt.Errorf("transcribe: failed to read transcript: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}

func stderrTail(stderr string) string {
	const maxLen = 2000
	stderr = strings.TrimSpace(stderr)
	if len(stderr) <= maxLen {
		return stderr
	}
	return stderr[len(stderr)-maxLen:]
}
