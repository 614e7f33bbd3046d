package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestCronSchedule(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	sched, err := CronSchedule(mustBuild(t, Every(1).Day().At("10:00")))
	if err != nil {
		t.Fatalf("CronSchedule error: %v", err)
	}
	first := sched.Next(start)
	if want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("first = %s, want %s", first, want)
	}
	second := sched.Next(first)
	if want := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC); !second.Equal(want) {
		t.Fatalf("second = %s, want %s", second, want)
	}
}

func TestCronScheduleInvalid(t *testing.T) {
	t.Parallel()
	if _, err := CronSchedule(Spec{Interval: 1}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestCronScheduleWithCron(t *testing.T) {
	t.Parallel()
	sched, err := CronSchedule(mustBuild(t, Every(2).Hours()))
	if err != nil {
		t.Fatalf("CronSchedule error: %v", err)
	}
	c := cron.New(cron.WithLocation(time.UTC))
	id := c.Schedule(sched, cron.FuncJob(func() {}))
	c.Start()
	defer c.Stop()

	next := c.Entry(id).Next
	if next.IsZero() {
		t.Fatal("entry was not scheduled")
	}
	if d := time.Until(next); d < 119*time.Minute || d > 2*time.Hour {
		t.Fatalf("next run in %s, want about 2h", d)
	}
}
