// Package events carries job-state-changed events to external consumers
// over a bounded in-process channel, keeping the core UI-agnostic.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/models"
)

// Channel is a publish/subscribe stream of JobEvents. Delivery is in
// emission order per subscriber; a slow subscriber loses its oldest pending
// event rather than blocking publishers. Consumers needing strong
// consistency re-read the store.
type Channel struct {
	mu      sync.Mutex
	subs    map[int]chan models.JobEvent
	nextID  int
	buffer  int
	closed  bool
	dropped int64
	logger  zerolog.Logger
}

func NewChannel(buffer int, logger zerolog.Logger) *Channel {
	if buffer <= 0 {
		buffer = 64
	}
	return &Channel{
		subs:   make(map[int]chan models.JobEvent),
		buffer: buffer,
		logger: logger.With().Str("component", "event_channel").Logger(),
	}
}

// PublishTransition builds and publishes an event for a status change.
func (c *Channel) PublishTransition(jobID string, previous, next models.JobStatus) {
	c.Publish(models.JobEvent{
		JobID:          jobID,
		PreviousStatus: previous,
		NewStatus:      next,
		Timestamp:      time.Now().UTC(),
	})
}

func (c *Channel) Publish(evt models.JobEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for id, sub := range c.subs {
		select {
		case sub <- evt:
		default:
			// Full buffer: drop the oldest pending event to keep emission
			// order, then deliver the new one.
			select {
			case <-sub:
				c.dropped++
			default:
			}
			select {
			case sub <- evt:
			default:
			}
			c.logger.Warn().Int("subscriber", id).Str("job_id", evt.JobID).Msg("subscriber buffer full, dropped oldest event")
		}
	}
}

// Subscribe returns a receive channel and a cancel function. The channel is
// closed when cancelled or when the Channel itself closes.
func (c *Channel) Subscribe() (<-chan models.JobEvent, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	sub := make(chan models.JobEvent, c.buffer)
	if c.closed {
		close(sub)
		return sub, func() {}
	}
	c.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
	return sub, cancel
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub)
	}
}
