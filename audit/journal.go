package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is a portal-side record of an audit action taken by a user, such as
// staging or committing a revert. Backend audit entries are separate.
type Event struct {
	Timestamp  time.Time
	UserID     string
	Action     string // revert
	Result     string // staged, cancelled, committed, failed, denied
	EntryID    string
	Collection string
	DocumentID string
	Field      string
	Error      string
}

// Handler receives journal events. Implementations should not block.
type Handler func(Event)

// Journal delivers events to its handlers asynchronously.
type Journal struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithHandler adds an event handler.
func WithHandler(h Handler) JournalOption {
	return func(j *Journal) { j.handlers = append(j.handlers, h) }
}

// WithSlog adds a handler writing each event to l.
func WithSlog(l *slog.Logger) JournalOption {
	return WithHandler(func(e Event) {
		l.LogAttrs(context.Background(), slog.LevelInfo, "audit: "+e.Action,
			slog.String("result", e.Result),
			slog.String("user_id", e.UserID),
			slog.String("entry_id", e.EntryID),
			slog.String("collection", e.Collection),
			slog.String("document_id", e.DocumentID),
			slog.String("field", e.Field),
			slog.String("error", e.Error),
		)
	})
}

// NewJournal starts a journal with the given queue size (default 256).
func NewJournal(bufferSize int, opts ...JournalOption) *Journal {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	j := &Journal{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	j.wg.Add(1)
	go j.process()
	return j
}

// Record queues e. Events recorded after Close are dropped. A nil Journal
// drops everything.
func (j *Journal) Record(e Event) {
	if j == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.queue <- e:
	case <-j.done:
	}
}

func (j *Journal) process() {
	defer j.wg.Done()
	for {
		select {
		case e := <-j.queue:
			j.emit(e)
		case <-j.done:
			for {
				select {
				case e := <-j.queue:
					j.emit(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) emit(e Event) {
	for _, h := range j.handlers {
		h(e)
	}
}

// Close flushes queued events and stops the journal.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
	return nil
}
