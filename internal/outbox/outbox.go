// Package outbox buffers control messages per topic when the gossip
// substrate has no subscribers yet, retrying with exponential backoff
// until a flush drains the queue or a new peer connection nudges it.
package outbox

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

const (
	maxAttempts  = 8
	maxQueueDepth = 1024
	baseDelay    = 250 * time.Millisecond
	maxDelay     = 8000 * time.Millisecond
	jitterMax    = 200 * time.Millisecond
)

// Publisher is the narrow slice of a transport the Outbox needs: publish
// a message to a topic, and report whether anyone is currently listening.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg models.ControlMsg) error
	HasSubscribers(topic string) bool
}

type entry struct {
	queue    []models.ControlMsg
	attempts int
	timer    *time.Timer
}

// Outbox owns one retry queue per topic. Construction mirrors the
// teacher's retry-then-republish idiom in helpers.go, generalized from a
// one-shot fixed-attempt loop into a per-topic scheduled timer.
type Outbox struct {
	mu      sync.Mutex
	pub     Publisher
	log     *utils.TaggedLogger
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(ctx context.Context, pub Publisher, log *utils.TaggedLogger) *Outbox {
	ctx, cancel := context.WithCancel(ctx)
	return &Outbox{
		pub:     pub,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Enqueue appends msg to topic's queue, dropping the oldest queued entry
// with a logged warning if the topic is already at capacity, and
// schedules a flush if one isn't already pending.
func (o *Outbox) Enqueue(topic string, msg models.ControlMsg) {
	o.mu.Lock()
	e, ok := o.entries[topic]
	if !ok {
		e = &entry{}
		o.entries[topic] = e
	}
	if len(e.queue) >= maxQueueDepth {
		o.log.Printf("outbox queue for topic %s at capacity (%d), dropping oldest", topic, maxQueueDepth)
		e.queue = e.queue[1:]
	}
	e.queue = append(e.queue, msg)
	needsFlush := e.timer == nil
	o.mu.Unlock()

	if needsFlush {
		o.scheduleFlush(topic)
	}
}

// scheduleFlush arms topic's retry timer. Must not be called while
// holding o.mu.
func (o *Outbox) scheduleFlush(topic string) {
	o.mu.Lock()
	e, ok := o.entries[topic]
	if !ok {
		o.mu.Unlock()
		return
	}
	delay := backoffDelay(e.attempts)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, func() { o.flush(topic) })
	o.mu.Unlock()
}

func backoffDelay(attempts int) time.Duration {
	d := baseDelay << attempts
	if d > maxDelay {
		d = maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(jitterMax)))
}

// flush fires on timer expiry. If the topic still has no subscribers,
// attempts is bumped (capped at maxAttempts) and the flush is
// rescheduled; otherwise the queue is drained in insertion order.
func (o *Outbox) flush(topic string) {
	select {
	case <-o.ctx.Done():
		return
	default:
	}

	o.mu.Lock()
	e, ok := o.entries[topic]
	if !ok || len(e.queue) == 0 {
		if ok {
			e.timer = nil
		}
		o.mu.Unlock()
		return
	}
	if !o.pub.HasSubscribers(topic) {
		if e.attempts < maxAttempts {
			e.attempts++
		}
		o.mu.Unlock()
		o.scheduleFlush(topic)
		return
	}
	queue := e.queue
	e.queue = nil
	o.mu.Unlock()

	for i, msg := range queue {
		if err := o.pub.Publish(o.ctx, topic, msg); err != nil {
			o.log.Printf("outbox flush for topic %s failed on message %d/%d, requeueing: %v", topic, i+1, len(queue), err)
			o.mu.Lock()
			e.queue = append(queue[i:], e.queue...)
			o.mu.Unlock()
			o.scheduleFlush(topic)
			return
		}
	}

	o.mu.Lock()
	e.attempts = 0
	e.timer = nil
	o.mu.Unlock()
}

// NudgeAll re-triggers scheduleFlush for every known topic. Callers hook
// this to a transport's new-peer-connection event, so a topic stuck
// waiting for subscribers flushes as soon as one appears instead of
// waiting out its current backoff window.
func (o *Outbox) NudgeAll() {
	o.mu.Lock()
	topics := make([]string, 0, len(o.entries))
	for topic := range o.entries {
		topics = append(topics, topic)
	}
	o.mu.Unlock()

	for _, topic := range topics {
		o.scheduleFlush(topic)
	}
}

// Close cancels all pending timers; queued messages are dropped with a
// logged warning.
func (o *Outbox) Close() {
	o.cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	for topic, e := range o.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if len(e.queue) > 0 {
			o.log.Printf("outbox closing with %d undelivered message(s) for topic %s", len(e.queue), topic)
		}
	}
	o.entries = make(map[string]*entry)
}
