package config

import (
	"strings"
	"time"

	"cadence/pkg/schedule"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`

	Jobs []JobConfig `json:"jobs" validate:"unique=Name,dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// SchedulerConfig controls the polling loop.
//
// Durations are Go duration strings (e.g. "250ms", "30s").
//
// Defaults (when fields are omitted/zero):
//   - timezone: local time
//   - min_poll: "100ms"
//   - max_poll: "1m"
//   - mode: "poll"
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	MinPoll  string `json:"min_poll,omitempty"`
	MaxPoll  string `json:"max_poll,omitempty"`

	// RaiseErrors makes a poll fail when any job failed. The runner logs it
	// either way; the switch only changes the error level.
	RaiseErrors bool `json:"raise_errors,omitempty"`

	// Mode "cron" hands the jobs to a cron runner instead of the poll loop.
	// Jobs then run on their own goroutines.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=poll cron"`

	// Watchdog pings systemd at half of WATCHDOG_USEC when enabled there.
	Watchdog bool `json:"watchdog,omitempty"`
}

const (
	defaultMinPoll = 100 * time.Millisecond
	defaultMaxPoll = time.Minute
)

// PollBounds returns the effective sleep bounds of the poll loop.
func (s SchedulerConfig) PollBounds() (minPoll, maxPoll time.Duration, err error) {
	if minPoll, err = ParseDurationOrDefault("scheduler.min_poll", s.MinPoll, defaultMinPoll); err != nil {
		return 0, 0, err
	}
	if maxPoll, err = ParseDurationOrDefault("scheduler.max_poll", s.MaxPoll, defaultMaxPoll); err != nil {
		return 0, 0, err
	}
	if maxPoll < minPoll {
		maxPoll = minPoll
	}
	return minPoll, maxPoll, nil
}

// Location resolves Timezone; empty means time.Local.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (s SchedulerConfig) CronMode() bool { return strings.EqualFold(strings.TrimSpace(s.Mode), "cron") }

// StorageConfig controls the run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cadence.db", "retention": 5000 }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite none"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention caps the stored records; 0 keeps everything.
	Retention int `json:"retention,omitempty" validate:"gte=0"`
}

type AlertsConfig struct {
	Telegram *TelegramAlerts `json:"telegram,omitempty"`
}

// TelegramAlerts sends job failures to a chat. The token is never logged.
type TelegramAlerts struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token" validate:"required_if=Enabled true"`
	ChatID     int64  `json:"chat_id" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id,omitempty" validate:"gte=0"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	QueueSize  int    `json:"queue_size,omitempty" validate:"gte=0"`
	// DedupWindow suppresses repeats of the same job error, e.g. "15m".
	DedupWindow string `json:"dedup_window,omitempty"`
}

// HTTPConfig controls the status server: /healthz, /jobs, /runs, /metrics
// and optionally /debug/pprof/.
//
// Security: a non-loopback addr needs a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// JobConfig declares one job. The rule fields mirror the builder calls:
//
//	{"name": "backup", "every": 1, "unit": "day", "at": "02:30", "action": "exec", "command": ["/usr/local/bin/backup"]}
type JobConfig struct {
	Name     string   `json:"name" validate:"required"`
	Every    int      `json:"every,omitempty" validate:"gte=0"`
	Unit     string   `json:"unit" validate:"required"`
	At       string   `json:"at,omitempty"`
	On       []string `json:"on,omitempty"`
	Between  string   `json:"between,omitempty"`
	Starting string   `json:"starting,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`

	Action  string   `json:"action" validate:"required,oneof=log exec systemd"`
	Message string   `json:"message,omitempty"`
	Command []string `json:"command,omitempty" validate:"required_if=Action exec"`

	// Service is the unit name for the systemd action; ".service" is
	// appended when no unit suffix is given.
	Service   string `json:"service,omitempty" validate:"required_if=Action systemd"`
	Operation string `json:"operation,omitempty" validate:"omitempty,oneof=start stop restart"`

	// Timeout bounds one exec or systemd run; "0s" or empty means no limit.
	Timeout string `json:"timeout,omitempty"`
}

// JobTag marks every job registered for a config entry so a reload can
// remove it again.
func JobTag(name string) string { return "job:" + name }

// Rule applies the job's rule to a builder obtained from every, which is
// either schedule.Every or a Scheduler's Every method. The error is the
// builder's first error, if any.
func (j JobConfig) Rule(every func(int) schedule.Builder) (schedule.Builder, error) {
	n := j.Every
	if n == 0 {
		n = 1
	}
	b := every(n)
	u, err := schedule.ParseUnit(j.Unit)
	if err != nil {
		return b, err
	}
	switch u {
	case schedule.Second:
		b = b.Seconds()
	case schedule.Minute:
		b = b.Minutes()
	case schedule.Hour:
		b = b.Hours()
	case schedule.Day:
		b = b.Days()
	case schedule.Week:
		b = b.Weeks()
	}
	if strings.TrimSpace(j.At) != "" {
		b = b.At(j.At)
	}
	if len(j.On) > 0 {
		b = b.On(j.On...)
	}
	if strings.TrimSpace(j.Between) != "" {
		b = b.Between(j.Between)
	}
	if strings.TrimSpace(j.Starting) != "" {
		b = b.Starting(j.Starting)
	}
	b = b.Named(j.Name).Tag(append([]string{JobTag(j.Name)}, j.Tags...)...)
	return b, b.Err()
}

// ExecTimeout returns the per-run limit of exec and systemd actions (0 = none).
func (j JobConfig) ExecTimeout() (time.Duration, error) {
	return ParseDurationField("jobs."+j.Name+".timeout", j.Timeout)
}
