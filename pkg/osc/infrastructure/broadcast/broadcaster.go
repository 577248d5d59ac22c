// Package broadcast fans job events out to live subscribers without ever blocking publishers.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
)

// Broadcaster is the in-process event hub.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]map[*subscription]struct{}
	bufferSize int
	seq        atomic.Uint64
	nodeID     string
	recorder   metrics.MetricRecorder
}

// NewBroadcaster creates a hub whose subscribers buffer up to cfg.BufferSize events.
// An empty nodeID is replaced with a random one.
func NewBroadcaster(cfg *config.BroadcastConfig, nodeID string, recorder metrics.MetricRecorder) *Broadcaster {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	return &Broadcaster{
		subs:       make(map[string]map[*subscription]struct{}),
		bufferSize: size,
		nodeID:     nodeID,
		recorder:   recorder,
	}
}

// NodeID identifies events produced by this process.
func (b *Broadcaster) NodeID() string { return b.nodeID }

// stamp fills Seq, Timestamp and Origin when unset.
func (b *Broadcaster) stamp(ev model.Event) model.Event {
	if ev.Seq == 0 {
		ev.Seq = b.seq.Add(1)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Origin == "" {
		ev.Origin = b.nodeID
	}
	return ev
}

// Publish delivers ev to subscribers of its job and of AllJobs.
func (b *Broadcaster) Publish(ev model.Event) {
	b.deliver(b.stamp(ev))
}

func (b *Broadcaster) deliver(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for s := range b.subs[ev.JobID] {
		dropped += s.offer(ev)
	}
	if ev.JobID != port.AllJobs {
		for s := range b.subs[port.AllJobs] {
			dropped += s.offer(ev)
		}
	}
	if dropped > 0 {
		b.recorder.RecordDroppedEvents(context.Background(), dropped)
	}
}

// Subscribe registers a subscriber for jobID, or for every job with port.AllJobs.
func (b *Broadcaster) Subscribe(jobID string) (port.Subscription, error) {
	s := &subscription{
		jobID: jobID,
		ch:    make(chan model.Event, b.bufferSize),
		owner: b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscription]struct{})
	}
	b.subs[jobID][s] = struct{}{}
	return s, nil
}

// SubscriberCount returns the number of live subscriptions on jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

func (b *Broadcaster) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.subs[s.jobID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.jobID)
		}
	}
}

type subscription struct {
	jobID  string
	ch     chan model.Event
	owner  *Broadcaster
	mu     sync.Mutex
	closed bool
}

func (s *subscription) C() <-chan model.Event { return s.ch }

func (s *subscription) Close() {
	s.owner.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer enqueues ev without blocking and returns how many events were dropped.
// When the buffer is full the oldest progress event is evicted, else the oldest non-terminal one.
// Terminal status events are never evicted; an incoming non-terminal event is dropped instead
// when nothing else can go.
func (s *subscription) offer(ev model.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	select {
	case s.ch <- ev:
		return 0
	default:
	}

	// Only offer sends, under s.mu, so draining and refilling cannot race another sender.
	queued := make([]model.Event, 0, cap(s.ch))
drain:
	for {
		select {
		case e := <-s.ch:
			queued = append(queued, e)
		default:
			break drain
		}
	}

	if len(queued) < cap(s.ch) {
		// The consumer made room while we were draining.
		for _, e := range append(queued, ev) {
			s.ch <- e
		}
		return 0
	}

	victim := -1
	for i, e := range queued {
		if e.Type == model.EventProgress {
			victim = i
			break
		}
	}
	if victim < 0 {
		for i, e := range queued {
			if !e.IsTerminal() {
				victim = i
				break
			}
		}
	}
	switch {
	case victim >= 0:
		queued = append(queued[:victim], queued[victim+1:]...)
		queued = append(queued, ev)
	case ev.IsTerminal():
		queued = append(queued[1:], ev)
	}
	for _, e := range queued {
		s.ch <- e
	}
	return 1
}

var _ port.Broadcaster = (*Broadcaster)(nil)
