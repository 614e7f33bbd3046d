package app

import (
	"context"
	"errors"

	"cadence/internal/config"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

// ErrNoStorage is returned by History when the config disables storage.
var ErrNoStorage = errors.New("storage is disabled in the config")

// History opens the configured store read-side and returns up to limit runs
// of job, newest first. An empty job lists every job.
func History(ctx context.Context, cfg *config.Config, job string, limit int) ([]storage.RunRecord, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrNoStorage
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentRuns(ctx, job, limit)
}
