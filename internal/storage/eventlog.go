// Package storage keeps an append-only JSONL history of held links.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/linkgate/internal/router"
)

var (
	errClosed     = errors.New("event log is closed")
	errBufferFull = errors.New("event log buffer full")
)

// EventLog writes router lifecycle events as JSON lines into one file per
// UTC day under baseDir. Writes happen on a background goroutine; Publish
// never blocks. It satisfies router.EventSink.
type EventLog struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	writeCh chan router.Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	closed      bool
}

var _ router.EventSink = (*EventLog)(nil)

// NewEventLog starts an event log under baseDir.
func NewEventLog(baseDir string, bufferSize, maxSizeMB int) *EventLog {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 25
	}
	l := &EventLog{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan router.Event, bufferSize),
		done:      make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Publish queues an event. Events are dropped when the buffer is full or
// the log is closed.
func (l *EventLog) Publish(evt router.Event) {
	if err := l.enqueue(evt); err != nil {
		slog.Warn("event log dropped record", "kind", evt.Kind, "request_id", evt.RequestID, "error", err)
	}
}

func (l *EventLog) enqueue(evt router.Event) error {
	select {
	case <-l.done:
		return errClosed
	default:
	}
	select {
	case l.writeCh <- evt:
		return nil
	default:
		return errBufferFull
	}
}

// Close stops the writer after flushing queued events.
func (l *EventLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger != nil {
		return l.logger.Close()
	}
	return nil
}

func (l *EventLog) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case evt := <-l.writeCh:
			l.writeRecord(evt)
		case <-l.done:
			for {
				select {
				case evt := <-l.writeCh:
					l.writeRecord(evt)
				default:
					return
				}
			}
		}
	}
}

func (l *EventLog) writeRecord(evt router.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("event log marshal failed", "kind", evt.Kind, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := l.now().UTC().Format("2006-01-02")
	if date != l.currentDate || l.logger == nil {
		if err := l.rotateForDate(date); err != nil {
			slog.Error("event log rotate failed", "date", date, "error", err)
			return
		}
	}

	if _, err := l.logger.Write(append(data, '\n')); err != nil {
		slog.Error("event log write failed", "kind", evt.Kind, "error", err)
	}
}

// rotateForDate switches to <baseDir>/<date>.jsonl. Callers hold l.mu.
func (l *EventLog) rotateForDate(date string) error {
	if l.logger != nil {
		_ = l.logger.Close()
		l.logger = nil
	}
	if err := os.MkdirAll(l.baseDir, 0o755); err != nil {
		return err
	}

	filename := filepath.Join(l.baseDir, date+".jsonl")
	l.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    l.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
		LocalTime:  false,
	}
	l.currentDate = date
	slog.Info("event log opened", "file", filename)
	return nil
}
