//go:build !linux

package action

import (
	"fmt"

	logx "cadence/pkg/logx"
)

func systemdAction(service, op string, _ logx.Logger) (Func, error) {
	if _, _, err := unitOperation(service, op); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("systemd: %w", ErrUnsupported)
}
