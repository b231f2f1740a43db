package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandBuilder assembles ffmpeg argument lists fluently.
type CommandBuilder struct {
	ffmpegPath string
	globalArgs []string
	inputArgs  []string
	inputs     []string
	outputArgs []string
	output     string
}

// NewCommandBuilder creates a builder with the usual quiet defaults.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		ffmpegPath: ffmpegPath,
		globalArgs: []string{"-hide_banner", "-loglevel", "error", "-nostdin"},
	}
}

// Overwrite allows overwriting the output file.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-y")
	return b
}

// InputArgs appends arguments that precede the next input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input adds an input file.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// OutputArgs appends arguments that precede the output.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// CopyStreams selects stream copy for all streams (no re-encode).
func (b *CommandBuilder) CopyStreams() *CommandBuilder {
	return b.OutputArgs("-c", "copy")
}

// Output sets the output file.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args returns the assembled argument list.
func (b *CommandBuilder) Args() []string {
	args := make([]string, 0, len(b.globalArgs)+len(b.inputArgs)+2*len(b.inputs)+len(b.outputArgs)+1)
	args = append(args, b.globalArgs...)
	for _, in := range b.inputs {
		args = append(args, b.inputArgs...)
		args = append(args, "-i", in)
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// Run executes the assembled command, returning stderr in the error on
// failure.
func (b *CommandBuilder) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.ffmpegPath, b.Args()...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, truncate(msg, 512))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
