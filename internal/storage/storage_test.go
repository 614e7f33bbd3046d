package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "cadence/pkg/logx"
)

func openTest(t *testing.T, driver string, retention int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      driver,
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: time.Second,
		Retention:   retention,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func record(i int, job string) RunRecord {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return RunRecord{
		JobID:    "id-" + job,
		Job:      job,
		Tags:     []string{"job:" + job},
		Due:      base.Add(time.Duration(i) * time.Minute),
		Started:  base.Add(time.Duration(i)*time.Minute + time.Millisecond),
		Duration: 1500 * time.Microsecond,
		OK:       i%2 == 0,
		Error:    map[bool]string{true: "", false: fmt.Sprintf("run %d failed", i)}[i%2 == 0],
		NextRun:  base.Add(time.Duration(i+1) * time.Minute),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver, 0)
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				job := "a"
				if i == 2 {
					job = "b"
				}
				if err := st.AppendRun(ctx, record(i, job)); err != nil {
					t.Fatalf("AppendRun error: %v", err)
				}
			}

			all, err := st.RecentRuns(ctx, "", 0)
			if err != nil {
				t.Fatalf("RecentRuns error: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("got %d records, want 5", len(all))
			}
			want := record(4, "a")
			got := all[0]
			if got.Job != want.Job || got.JobID != want.JobID || !got.Due.Equal(want.Due) || !got.Started.Equal(want.Started) ||
				!got.NextRun.Equal(want.NextRun) || got.Duration != want.Duration || got.OK != want.OK || len(got.Tags) != 1 {
				t.Fatalf("newest record = %+v, want %+v", got, want)
			}

			onlyA, err := st.RecentRuns(ctx, "a", 2)
			if err != nil {
				t.Fatalf("RecentRuns(a) error: %v", err)
			}
			if len(onlyA) != 2 || !onlyA[0].Due.Equal(record(4, "a").Due) || !onlyA[1].Due.Equal(record(3, "a").Due) {
				t.Fatalf("unexpected records for a: %+v", onlyA)
			}
			if onlyA[1].Error != "run 3 failed" {
				t.Fatalf("error text lost: %q", onlyA[1].Error)
			}

			onlyB, _ := st.RecentRuns(ctx, "b", 10)
			if len(onlyB) != 1 || onlyB[0].Job != "b" {
				t.Fatalf("unexpected records for b: %+v", onlyB)
			}
		})
	}
}

func TestFileStoreRetention(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file", 3)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if err := st.AppendRun(ctx, record(i, "a")); err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}
	got, err := st.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(got) != 4 || !got[0].Due.Equal(record(10, "a").Due) || !got[3].Due.Equal(record(7, "a").Due) {
		t.Fatalf("unexpected records after compaction: %d", len(got))
	}
}

func TestSQLiteRetention(t *testing.T) {
	t.Parallel()
	st := openTest(t, "sqlite", 3)
	st.(*sqliteStore).pruneEvery = 1
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if err := st.AppendRun(ctx, record(i, "a")); err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}
	got, err := st.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(got) != 3 || !got[2].Due.Equal(record(8, "a").Due) {
		t.Fatalf("unexpected records after prune: %d", len(got))
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.json")
	cfg := Config{Driver: "file", Path: path}
	st, err := Open(cfg, logx.Logger{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.AppendRun(context.Background(), record(0, "a")); err != nil {
		t.Fatalf("AppendRun error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := st.AppendRun(context.Background(), record(1, "a")); err != ErrClosed {
		t.Fatalf("AppendRun after Close = %v, want ErrClosed", err)
	}

	st, err = Open(cfg, logx.Logger{})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st.Close()
	got, err := st.RecentRuns(context.Background(), "", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("records after reopen = %d, %v", len(got), err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}
