//go:build linux

package action

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "cadence/pkg/logx"
)

// systemdAction queues a unit job over the system bus and waits for
// systemd to report its result.
func systemdAction(service, op string, log logx.Logger) (Func, error) {
	unit, op, err := unitOperation(service, op)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		conn, err := dbus.NewSystemConnectionContext(ctx)
		if err != nil {
			return fmt.Errorf("connect to systemd: %w", err)
		}
		defer conn.Close()

		done := make(chan string, 1)
		switch op {
		case "start":
			_, err = conn.StartUnitContext(ctx, unit, "replace", done)
		case "stop":
			_, err = conn.StopUnitContext(ctx, unit, "replace", done)
		default:
			_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, unit, err)
		}
		select {
		case res := <-done:
			if res != "done" {
				return fmt.Errorf("%s %s: systemd job %s", op, unit, res)
			}
			log.Debug("systemd job done", logx.String("unit", unit), logx.String("op", op))
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%s %s: %w", op, unit, ctx.Err())
		}
	}, nil
}
