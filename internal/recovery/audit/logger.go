package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Event types recorded in the audit trail.
const (
	EventDetection    = "detection"
	EventPlanCreation = "plan_creation"
	EventExecution    = "execution"
	EventVerification = "verification"
	EventCompensation = "compensation"
)

const (
	segmentPrefix = "recovery_"
	segmentSuffix = ".log"
	segmentLayout = "20060102"
)

// Metadata is attached to entries when audit_level is detailed.
type Metadata struct {
	Host string `json:"host"`
	PID  int    `json:"pid"`
}

// Entry is one audit trail line.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
	Metadata  *Metadata              `json:"metadata,omitempty"`
}

// Filter selects entries for queries and reports. Zero values match
// everything.
type Filter struct {
	Start     time.Time
	End       time.Time
	EventType string
	PlanID    string
}

// Logger is an append-only audit trail with one JSONL segment per
// calendar day. Entries are never mutated or deleted except through
// CleanupOldLogs.
type Logger struct {
	cfg   config.Audit
	clock time2.Clock

	mu sync.Mutex
}

func NewLogger(cfg config.Audit, clock time2.Clock) *Logger {
	return &Logger{cfg: cfg, clock: clock}
}

func (l *Logger) segmentPath(t time.Time) string {
	return filepath.Join(l.cfg.LogDirectory, segmentPrefix+t.Format(segmentLayout)+segmentSuffix)
}

// LogEvent appends one entry to today's segment. A write failure is
// reported on the fallback channel and returned, but callers treat it
// as advisory: auditing never blocks the operation it records.
func (l *Logger) LogEvent(eventType string, data map[string]interface{}) error {
	now := l.clock.Now()
	entry := Entry{
		Timestamp: now,
		EventType: eventType,
		Data:      data,
	}
	if l.cfg.Level == "detailed" {
		host, _ := os.Hostname()
		entry.Metadata = &Metadata{Host: host, PID: os.Getpid()}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return l.fallback(errors.Wrap(err, "failed to marshal audit entry"), eventType)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.cfg.LogDirectory, 0o750); err != nil {
		return l.fallback(errors.Wrap(err, "failed to create audit directory"), eventType)
	}

	f, err := os.OpenFile(l.segmentPath(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return l.fallback(errors.Wrap(err, "failed to open audit segment"), eventType)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return l.fallback(errors.Wrap(err, "failed to append audit entry"), eventType)
	}

	return nil
}

func (l *Logger) fallback(err error, eventType string) error {
	log.Error().
		Err(err).
		Str("event_type", eventType).
		Msg("Audit write failed")
	return err
}

// Query returns all entries matching the filter, oldest first.
func (l *Logger) Query(filter Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	segments, err := l.segments()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, segment := range segments {
		if !segmentInRange(segment, filter.Start, filter.End) {
			continue
		}
		segmentEntries, err := readSegment(segment)
		if err != nil {
			return nil, err
		}
		for _, entry := range segmentEntries {
			if filter.matches(entry) {
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}

func (f Filter) matches(entry Entry) bool {
	if !f.Start.IsZero() && entry.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && entry.Timestamp.After(f.End) {
		return false
	}
	if f.EventType != "" && entry.EventType != f.EventType {
		return false
	}
	if f.PlanID != "" {
		planID, _ := entry.Data["plan_id"].(string)
		if planID != f.PlanID {
			return false
		}
	}
	return true
}

// segments returns the segment paths sorted by day.
func (l *Logger) segments() ([]string, error) {
	pattern := filepath.Join(l.cfg.LogDirectory, segmentPrefix+"*"+segmentSuffix)
	segments, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit segments")
	}
	return segments, nil
}

func segmentDay(path string) (time.Time, bool) {
	name := filepath.Base(path)
	day := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	t, err := time.Parse(segmentLayout, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// segmentInRange is a coarse day-level check so queries skip segments
// entirely outside the filter window.
func segmentInRange(path string, start, end time.Time) bool {
	day, ok := segmentDay(path)
	if !ok {
		return false
	}
	if !start.IsZero() && day.AddDate(0, 0, 1).Before(start) {
		return false
	}
	if !end.IsZero() && day.After(end) {
		return false
	}
	return true
}

func readSegment(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open audit segment %s", path)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			// a torn line from a crashed writer is skipped, not fatal
			log.Warn().Str("segment", path).Msg("Skipping malformed audit line")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read audit segment %s", path)
	}

	return entries, nil
}

// CleanupOldLogs deletes segments older than the retention period and
// returns how many were removed.
func (l *Logger) CleanupOldLogs() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	segments, err := l.segments()
	if err != nil {
		return 0, err
	}

	cutoff := l.clock.Now().Add(-l.cfg.RetentionPeriod)
	removed := 0
	for _, segment := range segments {
		day, ok := segmentDay(segment)
		if !ok {
			continue
		}
		if !day.AddDate(0, 0, 1).Before(cutoff) {
			continue
		}
		if err := os.Remove(segment); err != nil {
			return removed, errors.Wrapf(err, "failed to remove audit segment %s", segment)
		}
		removed++
	}

	if removed > 0 {
		log.Info().
			Int("segments", removed).
			Msg("Audit segments cleaned up")
	}

	return removed, nil
}
