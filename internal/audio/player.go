// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/jeranaias/companion/internal/logging"
)

// FilePlaceholder in a player command is replaced by the clip path. Without
// it the path is appended as the last argument.
const FilePlaceholder = "{file}"

var (
	// ErrNoPlayer is returned when no player program is configured or found.
	ErrNoPlayer = errors.New("no audio player available")

	// ErrStopped is returned by Play when Stop ended the playback.
	ErrStopped = errors.New("playback stopped")
)

// Player plays one clip at a time.
type Player interface {
	// Play plays audio and blocks until it finishes, ctx is cancelled, or
	// Stop is called. A previous playback is stopped first.
	Play(ctx context.Context, audio []byte) error

	// Stop ends the current playback and releases its resources before
	// returning.
	Stop()
}

// =============================================================================
// DISCARD PLAYER
// =============================================================================

// DiscardPlayer accepts clips and plays nothing.
type DiscardPlayer struct{}

func (DiscardPlayer) Play(ctx context.Context, audio []byte) error {
	return ctx.Err()
}

func (DiscardPlayer) Stop() {}

// =============================================================================
// COMMAND PLAYER
// =============================================================================

// playback is one running player process and its clip file.
type playback struct {
	cmd     *exec.Cmd
	path    string
	done    chan struct{}
	stopped bool
}

// CommandPlayer writes each clip to a temporary file and runs an external
// program on it.
type CommandPlayer struct {
	args    []string
	tempDir string
	logger  *slog.Logger

	mu  sync.Mutex
	cur *playback
}

// NewCommandPlayer creates a player for command, a program name followed by
// its arguments. An empty command picks a known player from PATH.
func NewCommandPlayer(command string, logger *slog.Logger) (*CommandPlayer, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		found := DetectCommand()
		if found == "" {
			return nil, ErrNoPlayer
		}
		args = strings.Fields(found)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlayer, err)
	}
	return &CommandPlayer{args: args, logger: logging.OrDiscard(logger)}, nil
}

// DetectCommand returns the first known player program on PATH, or "".
func DetectCommand() string {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"afplay"}
	case "windows":
		candidates = []string{"ffplay -nodisp -autoexit -loglevel quiet"}
	default:
		candidates = []string{
			"paplay",
			"aplay -q",
			"pw-play",
			"ffplay -nodisp -autoexit -loglevel quiet",
		}
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(strings.Fields(c)[0]); err == nil {
			return c
		}
	}
	return ""
}

// Play writes audio to a temporary file and runs the player on it.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte) error {
	p.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.CreateTemp(p.tempDir, "companion-*.audio")
	if err != nil {
		return fmt.Errorf("failed to create clip file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write clip file: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.args[0], p.expandArgs(path)...)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to start player: %w", err)
	}

	pb := &playback{cmd: cmd, path: path, done: make(chan struct{})}
	p.mu.Lock()
	p.cur = pb
	p.mu.Unlock()

	waitErr := cmd.Wait()

	p.mu.Lock()
	if p.cur == pb {
		p.cur = nil
	}
	stopped := pb.stopped
	p.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Debug("failed to remove clip file", "path", path, "error", err)
	}
	close(pb.done)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stopped {
		return ErrStopped
	}
	if waitErr != nil {
		return fmt.Errorf("player failed: %w", waitErr)
	}
	return nil
}

// Stop kills the running player, if any, and waits for its clip file to be
// removed.
func (p *CommandPlayer) Stop() {
	p.mu.Lock()
	pb := p.cur
	p.cur = nil
	if pb != nil {
		pb.stopped = true
	}
	p.mu.Unlock()

	if pb == nil {
		return
	}
	if pb.cmd.Process != nil {
		_ = pb.cmd.Process.Kill()
	}
	<-pb.done
}

func (p *CommandPlayer) expandArgs(path string) []string {
	rest := p.args[1:]
	out := make([]string, 0, len(rest)+1)
	replaced := false
	for _, a := range rest {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}
