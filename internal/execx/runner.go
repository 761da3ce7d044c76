// Package execx runs external command line tools (aos, turbo) with a context
// deadline and captured output.
package execx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
)

type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the inherited environment as KEY=VALUE.
	Env []string
	// Redact lists argument values that must not appear in logs.
	Redact []string
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// Runner executes commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type ExecRunner struct {
	logger *slog.Logger
}

func NewRunner(log *slog.Logger) *ExecRunner {
	if log == nil {
		log = slog.Default()
	}
	return &ExecRunner{logger: log.With(slog.String("service", "execx"))}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return Result{}, errors.New("command name is required")
	}
	r.logger.Debug("executing",
		slog.String("command", cmd.Name),
		slog.String("args", redact(strings.Join(cmd.Args, " "), cmd.Redact)),
		slog.String("dir", cmd.Dir),
	)
	task := execute.ExecTask{
		Command: cmd.Name,
		Args:    cmd.Args,
		Cwd:     cmd.Dir,
		Env:     cmd.Env,
	}
	res, err := task.Execute(ctx)
	out := Result{
		Stdout:   Clip(res.Stdout, MaxOutputBytes, MaxOutputLines),
		Stderr:   Clip(res.Stderr, MaxOutputBytes, MaxOutputLines),
		ExitCode: res.ExitCode,
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
		}
		return out, fmt.Errorf("run %s: %w", cmd.Name, err)
	}
	if res.Cancelled {
		return out, fmt.Errorf("%s: %w", cmd.Name, context.Canceled)
	}
	if res.ExitCode != 0 {
		r.logger.Warn("command exited with non-zero code",
			slog.String("command", cmd.Name),
			slog.Int("code", res.ExitCode),
			slog.String("stderr", redact(lastLine(res.Stderr), cmd.Redact)),
		)
		return out, &ExitError{Command: cmd.Name, ExitCode: res.ExitCode, Stderr: redact(out.Stderr, cmd.Redact)}
	}
	return out, nil
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***")
		}
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
