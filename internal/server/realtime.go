package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// RealtimeEventXPAwarded is emitted after every successful XP award.
	RealtimeEventXPAwarded = "xp-awarded"
	realtimeEventHeartbeat = "heartbeat"
	realtimeHeartbeatEvery = 25 * time.Second
	realtimeBufferSize     = 16
)

// RealtimeMessage describes a leaderboard change pushed to stream subscribers.
type RealtimeMessage struct {
	EventType string    `json:"-"`
	UserID    string    `json:"userId"`
	XP        int64     `json:"xp"`
	Rank      int       `json:"rank"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RealtimeDispatcher broadcasts leaderboard changes to every open stream.
// A stream whose buffer is full misses the event; publishers never wait.
type RealtimeDispatcher struct {
	mu      sync.RWMutex
	streams map[chan RealtimeMessage]struct{}
	closed  bool
	dropped atomic.Int64
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{streams: make(map[chan RealtimeMessage]struct{})}
}

// Subscribe opens a stream that lives until ctx ends, cancel is called, or the
// dispatcher is closed. The returned channel is closed when the stream ends.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	stream := make(chan RealtimeMessage, realtimeBufferSize)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(stream)
		return stream, func() {}
	}
	d.streams[stream] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { d.detach(stream) })
	}
	stop := context.AfterFunc(ctx, cancel)
	return stream, func() {
		stop()
		cancel()
	}
}

func (d *RealtimeDispatcher) detach(stream chan RealtimeMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.streams[stream]; ok {
		delete(d.streams, stream)
		close(stream)
	}
}

// Publish hands the message to every open stream.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for stream := range d.streams {
		select {
		case stream <- message:
		default:
			d.dropped.Add(1)
		}
	}
}

// Close ends every open stream and rejects new subscriptions. Long-lived
// leaderboard streams would otherwise hold up graceful shutdown.
func (d *RealtimeDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for stream := range d.streams {
		delete(d.streams, stream)
		close(stream)
	}
}

// SubscriberCount reports the number of open streams.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.streams)
}

// Dropped reports how many deliveries were skipped because a stream was full.
func (d *RealtimeDispatcher) Dropped() int64 {
	return d.dropped.Load()
}
