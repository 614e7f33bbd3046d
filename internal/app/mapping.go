package app

import (
	"time"

	"cadence/internal/alert"
	"cadence/internal/config"
	"cadence/internal/observability/status"
	"cadence/internal/storage"
	"cadence/internal/task/runner"
	logx "cadence/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig reports enabled=false for a missing section or the
// "none" driver.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil || sc.Driver == "" || sc.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
		Retention:   sc.Retention,
	}, true, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	t := cfg.Alerts.Telegram
	if t == nil {
		return alert.Config{}, nil
	}
	dedup, err := config.ParseDurationField("alerts.telegram.dedup_window", t.DedupWindow)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Enabled:     t.Enabled,
		Token:       t.Token,
		ChatID:      t.ChatID,
		ThreadID:    t.ThreadID,
		RatePerSec:  t.RatePerSec,
		QueueSize:   t.QueueSize,
		RetryMax:    2,
		DedupWindow: dedup,
	}, nil
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	minPoll, maxPoll, err := cfg.Scheduler.PollBounds()
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		MinPoll:     minPoll,
		MaxPoll:     maxPoll,
		StopOnError: cfg.Scheduler.RaiseErrors,
		Watchdog:    cfg.Scheduler.Watchdog,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (status.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	// Profiles stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, time.Minute)
	if err != nil {
		return status.Config{}, err
	}
	return status.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}, nil
}
