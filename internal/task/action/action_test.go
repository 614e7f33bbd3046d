package action

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"cadence/internal/config"
	logx "cadence/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLogAction(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	fn, err := Build(config.JobConfig{Name: "hello", Action: "log", Message: "hello world"}, logx.NewWriter(&buf, "info"))
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if err := fn(context.Background()); err != nil {
		t.Fatalf("run error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"hello world", `"job":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestExecAction(t *testing.T) {
	t.Parallel()
	requireShell(t)
	tests := []struct {
		name    string
		command []string
		timeout string
		wantErr string
		ctxErr  error
	}{
		{name: "success", command: []string{"sh", "-c", "echo ok"}},
		{name: "exit status", command: []string{"sh", "-c", "echo broken >&2; exit 3"}, wantErr: "exit status 3: broken"},
		{name: "timeout", command: []string{"sh", "-c", "exec sleep 5"}, timeout: "100ms", ctxErr: context.DeadlineExceeded},
		{name: "missing binary", command: []string{"/nonexistent/cadence-test"}, wantErr: "/nonexistent/cadence-test"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn, err := Build(config.JobConfig{Name: tt.name, Action: "exec", Command: tt.command, Timeout: tt.timeout}, logx.Nop())
			if err != nil {
				t.Fatalf("Build error: %v", err)
			}
			err = fn(context.Background())
			switch {
			case tt.ctxErr != nil:
				if !errors.Is(err, tt.ctxErr) {
					t.Fatalf("error = %v, want %v", err, tt.ctxErr)
				}
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestExecCommandIsCopied(t *testing.T) {
	t.Parallel()
	requireShell(t)
	cmd := []string{"sh", "-c", "exit 0"}
	fn, err := Build(config.JobConfig{Name: "copy", Action: "exec", Command: cmd}, logx.Nop())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	cmd[2] = "exit 1"
	if err := fn(context.Background()); err != nil {
		t.Fatalf("run error after mutating config slice: %v", err)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		job  config.JobConfig
		want string
	}{
		{name: "unknown action", job: config.JobConfig{Name: "a", Action: "mail"}, want: `unknown action "mail"`},
		{name: "empty command", job: config.JobConfig{Name: "a", Action: "exec"}, want: "empty command"},
		{name: "bad timeout", job: config.JobConfig{Name: "a", Action: "log", Timeout: "soon"}, want: "timeout"},
		{name: "empty service", job: config.JobConfig{Name: "a", Action: "systemd"}, want: "empty service"},
		{name: "bad operation", job: config.JobConfig{Name: "a", Action: "systemd", Service: "nginx", Operation: "reload"}, want: "unknown operation"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(tt.job, logx.Nop())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Build error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestUnitOperation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		service, op      string
		wantUnit, wantOp string
	}{
		{service: "nginx", wantUnit: "nginx.service", wantOp: "restart"},
		{service: " backup.timer ", op: "START", wantUnit: "backup.timer", wantOp: "start"},
		{service: "db.service", op: "stop", wantUnit: "db.service", wantOp: "stop"},
	}
	for _, tt := range tests {
		unit, op, err := unitOperation(tt.service, tt.op)
		if err != nil {
			t.Fatalf("unitOperation(%q, %q) error: %v", tt.service, tt.op, err)
		}
		if unit != tt.wantUnit || op != tt.wantOp {
			t.Fatalf("unitOperation(%q, %q) = %q, %q, want %q, %q", tt.service, tt.op, unit, op, tt.wantUnit, tt.wantOp)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()
	if got := tail("abcdef", 3); got != "…def" {
		t.Fatalf("tail = %q", got)
	}
	if got := tail("abc", 3); got != "abc" {
		t.Fatalf("tail = %q", got)
	}
}
