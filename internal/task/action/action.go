// Package action turns config job entries into scheduler callables.
package action

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"cadence/internal/config"
	logx "cadence/pkg/logx"
)

// Func is the callable registered with the scheduler. It receives the
// poll context.
type Func func(ctx context.Context) error

var ErrUnsupported = errors.New("action not supported on this platform")

// maxOutput caps the command output kept in errors and logs.
const maxOutput = 2048

// Build returns the callable for j.
func Build(j config.JobConfig, log logx.Logger) (Func, error) {
	timeout, err := j.ExecTimeout()
	if err != nil {
		return nil, err
	}
	log = log.With(logx.String("job", j.Name), logx.String("action", j.Action))

	var fn Func
	switch strings.ToLower(strings.TrimSpace(j.Action)) {
	case "log":
		fn = logAction(j.Message, log)
	case "exec":
		fn, err = execAction(j.Command, log)
	case "systemd":
		fn, err = systemdAction(j.Service, j.Operation, log)
	default:
		err = fmt.Errorf("unknown action %q", j.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.Name, err)
	}
	return withTimeout(fn, timeout), nil
}

func withTimeout(fn Func, d time.Duration) Func {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx)
	}
}

func logAction(msg string, log logx.Logger) Func {
	if strings.TrimSpace(msg) == "" {
		msg = "job ran"
	}
	return func(context.Context) error {
		log.Info(msg)
		return nil
	}
}

func execAction(argv []string, log logx.Logger) (Func, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("exec: empty command")
	}
	argv = slices.Clone(argv)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.WaitDelay = 5 * time.Second
		out, err := cmd.CombinedOutput()
		text := tail(strings.TrimSpace(string(out)), maxOutput)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w (%v)", ctxErr, err)
			}
			if text != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, text)
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		if text != "" {
			log.Debug("command output", logx.String("output", text))
		}
		return nil
	}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

// unitOperation normalizes a systemd unit name and operation.
func unitOperation(service, op string) (string, string, error) {
	unit := strings.TrimSpace(service)
	if unit == "" {
		return "", "", errors.New("systemd: empty service")
	}
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case "":
		op = "restart"
	case "start", "stop", "restart":
	default:
		return "", "", fmt.Errorf("systemd: unknown operation %q", op)
	}
	return unit, op, nil
}
