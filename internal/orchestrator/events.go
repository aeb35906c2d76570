package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brandtune/songforge-api/internal/song"
)

// CompletionEvent is published once per terminal write, after the
// compare-and-set has applied. Subscribers (artifact archiver,
// notification collaborators) react to it outside the write path.
type CompletionEvent struct {
	SongID          string
	TaskID          string
	Status          song.Status
	AudioURL        string
	ImageURL        string
	DurationSeconds float64
	ErrorMessage    string
	Source          string // which signal won: poll, callback or status
	OccurredAt      time.Time
}

// EventBus is a small in-process publish/subscribe fanout for completion
// events. Publish never blocks the completion path: a subscriber whose
// buffer is full misses the event, which is logged and tolerated.
type EventBus struct {
	mu     sync.RWMutex
	subs   []chan CompletionEvent
	logger *slog.Logger
}

// NewEventBus creates an event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *EventBus) Subscribe() <-chan CompletionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan CompletionEvent, 16)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to all subscribers without blocking.
func (b *EventBus) Publish(evt CompletionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("completion event dropped for slow subscriber",
				slog.String("song_id", evt.SongID),
				slog.String("task_id", evt.TaskID),
			)
		}
	}
}
