// Package alert delivers job failure notifications to Telegram.
//
// Alerts are queued and sent by a background worker so a slow or
// unreachable Telegram API never delays the scheduling loop.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled  = errors.New("alerts disabled")
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alerts stopped")
)

type Config struct {
	Enabled  bool
	Token    string
	ChatID   int64
	ThreadID int

	RatePerSec int
	QueueSize  int

	RetryMax  int
	RetryBase time.Duration

	// DedupWindow suppresses identical alerts (same job and error text)
	// inside the window. 0 disables suppression.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

// Sender delivers one rendered alert.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Alert is a job failure worth telling a human about.
type Alert struct {
	Job   string
	JobID string
	At    time.Time
	Err   string
	// Removed is set when the job could not be rescheduled and left the
	// registry.
	Removed bool
	NextRun time.Time
}

func (a Alert) key() string { return a.Job + "\x00" + a.Err }

// Text renders the alert as a plain Telegram message.
func (a Alert) Text() string {
	var b strings.Builder
	if a.Removed {
		fmt.Fprintf(&b, "job %s removed from schedule", a.Job)
	} else {
		fmt.Fprintf(&b, "job %s failed", a.Job)
	}
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\nat: %s", a.At.Format(time.DateTime))
	}
	if a.Err != "" {
		fmt.Fprintf(&b, "\nerror: %s", truncate(a.Err, 1500))
	}
	if !a.NextRun.IsZero() {
		fmt.Fprintf(&b, "\nnext run: %s", a.NextRun.Format(time.DateTime))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
