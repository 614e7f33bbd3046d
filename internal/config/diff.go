package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cadence/pkg/logx"
)

// JobDiff lists job names by kind of change between two configs.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool { return len(d.Added)+len(d.Removed)+len(d.Changed) == 0 }

// SummarizeChange returns the changed top-level sections, log fields that
// describe them (secrets such as the bot token are never included) and the
// job-level diff.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.mode", strings.TrimSpace(newCfg.Scheduler.Mode)),
			logx.Bool("scheduler.raise_errors", newCfg.Scheduler.RaiseErrors),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oT, nT TelegramAlerts
	if oldCfg.Alerts.Telegram != nil {
		oT = *oldCfg.Alerts.Telegram
	}
	if newCfg.Alerts.Telegram != nil {
		nT = *newCfg.Alerts.Telegram
	}
	if oT != nT {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.telegram_enabled", nT.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Int("alerts.rate_per_sec", nT.RatePerSec),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	jobs := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jobs.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Strings("jobs.added", jobs.Added),
			logx.Strings("jobs.removed", jobs.Removed),
			logx.Strings("jobs.changed", jobs.Changed),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobs
}

// DiffJobs compares job lists by name. A job toggled to disabled counts as
// removed, and back to enabled as added.
func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	oldM := enabledJobs(oldJobs)
	newM := enabledJobs(newJobs)

	var d JobDiff
	for name, o := range oldM {
		n, ok := newM[name]
		switch {
		case !ok:
			d.Removed = append(d.Removed, name)
		case !reflect.DeepEqual(o, n):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range newM {
		if _, ok := oldM[name]; !ok {
			d.Added = append(d.Added, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func enabledJobs(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		if !j.Disabled {
			m[j.Name] = j
		}
	}
	return m
}
