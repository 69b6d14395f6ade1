package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const auditPersistTimeout = 5 * time.Second

// AuditService is the signing service's audit trail. Each event is written
// as one JSON line to the audit file, mirrored to the structured logger and,
// when a repository is configured, persisted asynchronously.
type AuditService struct {
	mu   sync.Mutex
	w    io.Writer
	repo ports.AuditRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewAuditService creates a new audit service.
// If repo is nil, events are only written to w and the logger.
func NewAuditService(w io.Writer, repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{w: w, repo: repo, log: log}
}

// Append records event. The file write is synchronous so the trail survives
// a crash right after the transition; repository persistence is fire-and-forget.
func (s *AuditService) Append(ctx context.Context, event *domain.AuditEvent) {
	s.logEvent(event)

	if s.w != nil {
		line, err := json.Marshal(event)
		if err != nil {
			s.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("failed to encode audit event")
		} else {
			s.mu.Lock()
			_, err = s.w.Write(append(line, '\n'))
			s.mu.Unlock()
			if err != nil {
				s.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("failed to write audit event")
			}
		}
	}

	if s.repo != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPersistTimeout)
			defer cancel()
			if err := s.repo.Create(pctx, event); err != nil {
				s.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to persist audit event")
			}
		}()
	}
}

func (s *AuditService) logEvent(event *domain.AuditEvent) {
	e := s.log.Info()
	switch event.Kind {
	case domain.AuditKindReject:
		e = s.log.Warn()
	case domain.AuditKindError:
		e = s.log.Error()
	}
	if event.ConnID != nil {
		e = e.Str("conn_id", event.ConnID.String())
	}
	e.Str("kind", string(event.Kind)).
		Str("source", event.Source).
		Msg(event.Info)
}

// Close waits for pending persistence and closes the underlying writer.
func (s *AuditService) Close() error {
	s.wg.Wait()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewAuditFileWriter opens a size-rotated audit file in dir named after the
// process start time, e.g. log/2026-01-02_15-04-05.json.
func NewAuditFileWriter(dir string, maxSizeMB, maxBackups int, startedAt time.Time) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, startedAt.Format("2006-01-02_15-04-05")+".json"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	}, nil
}

// ReadAuditFile parses an audit file back into events.
func ReadAuditFile(path string) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	defer f.Close()

	var events []domain.AuditEvent
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev domain.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("parsing audit line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit file: %w", err)
	}
	return events, nil
}

// AuditFileReader serves recent events from the current audit file, for
// deployments without a database.
type AuditFileReader struct {
	path string
}

// NewAuditFileReader creates a reader over the audit file at path.
func NewAuditFileReader(path string) *AuditFileReader {
	return &AuditFileReader{path: path}
}

// ListRecent returns up to limit events, newest first.
func (r *AuditFileReader) ListRecent(_ context.Context, limit int) ([]domain.AuditEvent, error) {
	events, err := ReadAuditFile(r.path)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]domain.AuditEvent, len(events))
	for i, ev := range events {
		out[len(events)-1-i] = ev
	}
	return out, nil
}
