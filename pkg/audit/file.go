package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/responder/pkg/models"
	"github.com/jonboulle/clockwork"
)

const (
	filePrefix = "audit_"
	fileSuffix = ".jsonl"
	dayLayout  = "20060102"
)

// ErrPartitionClosed is returned when a write would land in a day that was already closed.
var ErrPartitionClosed = errors.New("audit partition already closed")

// FileSink writes one JSON line per entry into audit_YYYYMMDD.jsonl, one file per UTC day.
// Once the day changes the previous file is closed for good.
type FileSink struct {
	dir   string
	clock clockwork.Clock

	mu   sync.Mutex
	day  time.Time
	file *os.File
}

// NewFileSink creates dir when missing.
func NewFileSink(dir string, clock clockwork.Clock) (*FileSink, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	return &FileSink{dir: dir, clock: clock}, nil
}

// PartitionPath returns the file holding the given UTC day.
func (s *FileSink) PartitionPath(day time.Time) string {
	return filepath.Join(s.dir, filePrefix+day.UTC().Format(dayLayout)+fileSuffix)
}

func (s *FileSink) Write(_ context.Context, entry models.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.partitionLocked()
	if err != nil {
		return err
	}

	// a single write keeps the line whole for concurrent readers
	_, err = file.Write(line)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (s *FileSink) partitionLocked() (*os.File, error) {
	now := s.clock.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if s.file != nil {
		switch {
		case day.Equal(s.day):
			return s.file, nil
		case day.Before(s.day):
			return nil, fmt.Errorf("%w: %s", ErrPartitionClosed, day.Format(dayLayout))
		}

		err := s.file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close audit partition %s: %w", s.day.Format(dayLayout), err)
		}

		s.file = nil
	}

	if !s.day.IsZero() && day.Before(s.day) {
		return nil, fmt.Errorf("%w: %s", ErrPartitionClosed, day.Format(dayLayout))
	}

	file, err := os.OpenFile(s.PartitionPath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit partition: %w", err)
	}

	s.day = day
	s.file = file

	return file, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	return err
}

// Entries reads every partition overlapping the query. A trailing line without a newline is
// still being written and is skipped.
func (s *FileSink) Entries(ctx context.Context, query Query) ([]models.AuditEntry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit partitions: %w", err)
	}

	sort.Strings(paths)

	entries := make([]models.AuditEntry, 0)

	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		day, err := time.Parse(dayLayout, strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), filePrefix), fileSuffix))
		if err != nil {
			continue
		}

		if !query.From.IsZero() && day.Add(24*time.Hour).Before(query.From) {
			continue
		}

		if !query.To.IsZero() && day.After(query.To) {
			continue
		}

		partition, err := readPartition(path, query)
		if err != nil {
			return nil, err
		}

		entries = append(entries, partition...)
	}

	return entries, nil
}

func readPartition(path string, query Query) ([]models.AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit partition: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	var entries []models.AuditEntry

	reader := bufio.NewReader(file)

	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return entries, nil
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read audit partition %s: %w", path, err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var entry models.AuditEntry

		err = json.Unmarshal(line, &entry)
		if err != nil {
			return nil, fmt.Errorf("corrupt audit line in %s: %w", path, err)
		}

		if query.Matches(entry) {
			entries = append(entries, entry)
		}
	}
}
