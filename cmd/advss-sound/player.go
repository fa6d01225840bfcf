package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Player plays one audio file to completion.
type Player interface {
	Play(ctx context.Context, file, format string) error
}

var errEmptyPlayerCommand = errors.New("player command is empty")

// CommandPlayer plays files by running an external program. Args may contain
// the placeholders {file} and {format}.
type CommandPlayer struct {
	Command string
	Args    []string
	logger  *slog.Logger
}

func NewCommandPlayer(command string, args []string, logger *slog.Logger) *CommandPlayer {
	return &CommandPlayer{
		Command: command,
		Args:    append([]string(nil), args...),
		logger:  logger,
	}
}

// Check reports whether the player program can be found.
func (p *CommandPlayer) Check() error {
	if p.Command == "" {
		return errEmptyPlayerCommand
	}
	if _, err := exec.LookPath(p.Command); err != nil {
		return fmt.Errorf("player %q: %w", p.Command, err)
	}
	return nil
}

func (p *CommandPlayer) args(file, format string) []string {
	r := strings.NewReplacer("{file}", file, "{format}", format)
	out := make([]string, len(p.Args))
	for i, a := range p.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Play runs the player and waits for it to exit. Canceling ctx kills it.
func (p *CommandPlayer) Play(ctx context.Context, file, format string) error {
	if p.Command == "" {
		return errEmptyPlayerCommand
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("audio file: %w", err)
	}

	args := p.args(file, format)
	cmd := exec.CommandContext(ctx, p.Command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("starting player", "command", p.Command, "args", args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("play %s: %w", file, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("play %s: %w: %s", file, err, msg)
		}
		return fmt.Errorf("play %s: %w", file, err)
	}
	return nil
}
