package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	logx "cadence/pkg/logx"
)

const maxLine = 1 << 20

// fileStore appends run records to <prefix>.runs.jsonl. When retention is
// set, the file is rewritten to the newest records once it holds twice as
// many.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	path      string
	f         *os.File
	lines     int
	retention int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		path:      filepath.Join(dir, base) + ".runs.jsonl",
		retention: cfg.Retention,
	}
	recs, err := readRuns(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.lines = len(recs)
	if s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}
	log.Debug("run history opened", logx.String("path", s.path), logx.Int("records", s.lines))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	if s.retention > 0 && s.lines >= 2*s.retention {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run history compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(_ context.Context, job string, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	recs, err := readRuns(s.path)
	if err != nil {
		return nil, err
	}
	if job != "" {
		recs = slices.DeleteFunc(recs, func(r RunRecord) bool { return r.Job != job })
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	slices.Reverse(recs)
	return recs, nil
}

// compactLocked keeps the newest retention records.
func (s *fileStore) compactLocked() error {
	recs, err := readRuns(s.path)
	if err != nil {
		return err
	}
	if len(recs) > s.retention {
		recs = recs[len(recs)-s.retention:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = s.f.Close()
	renameErr := os.Rename(tmp, s.path)
	if s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return err
	}
	if renameErr != nil {
		return renameErr
	}
	s.lines = len(recs)
	return nil
}

// readRuns skips lines that do not decode, e.g. a torn final write.
func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
