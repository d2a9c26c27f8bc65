// Package event implements the progress broadcast bus which decouples the
// analysis pipeline from any parties interested in per-job progress (the
// websocket layer, tests, future notification integrations).
//
// The bus is constructed once and injected in to the components that need
// it. Publishing is fire-and-forget: a dispatch never blocks on (or fails
// because of) a slow, full, or absent subscriber.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("EventBus")

// Events buffered per subscription before the bus starts dropping
// messages for that subscriber. Delivery is at-most-once; a subscriber
// that cannot keep up loses events rather than stalling the dispatcher.
const subscriptionBufferSize = 64

type (
	// Topic identifies which job's events a subscription receives.
	// Use TopicForJob for a single job, or TopicAllJobs for everything.
	Topic string

	// ProgressEvent is the ephemeral message carried by the bus. It is
	// never persisted; it exists only in-flight between a dispatch and
	// the subscribers registered at that moment.
	ProgressEvent struct {
		JobID     uuid.UUID `json:"job_id"`
		Progress  int       `json:"progress"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Dispatcher is the narrow, publish-only view of the bus handed to
	// the pipeline and ingest queue.
	Dispatcher interface {
		Dispatch(ProgressEvent)
	}

	// Coordinator is the full bus surface: publishing plus subscription
	// management.
	Coordinator interface {
		Dispatcher
		Subscribe(...Topic) *Subscription
	}

	bus struct {
		mu   sync.Mutex
		subs map[*Subscription]struct{}
	}

	// Subscription is the handle returned by Subscribe. Events arrive on
	// the channel returned by Events until Close is called, at which
	// point the subscriber is deterministically detached and the channel
	// closed.
	Subscription struct {
		topics map[Topic]struct{}
		events chan ProgressEvent
		detach func(*Subscription)
		once   sync.Once
	}
)

// TopicAllJobs receives the events of every job on the bus.
const TopicAllJobs Topic = "jobs:all"

// TopicForJob returns the topic scoped to a single job's events.
func TopicForJob(jobID uuid.UUID) Topic {
	return Topic("jobs:" + jobID.String())
}

func New() Coordinator {
	return &bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers interest in the provided topics and returns the
// handle for receiving matching events. Only events dispatched AFTER this
// call are delivered; there is no replay of earlier events and no snapshot
// of current job state.
func (b *bus) Subscribe(topics ...Topic) *Subscription {
	sub := &Subscription{
		topics: make(map[Topic]struct{}, len(topics)),
		events: make(chan ProgressEvent, subscriptionBufferSize),
		detach: b.remove,
	}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}

	return sub
}

// Dispatch delivers the event to every subscription whose topics match the
// events job (or the all-jobs topic). Dispatches for the same job that
// occur on a single goroutine are observed by each subscriber in dispatch
// order. If a subscriber's buffer is full the event is dropped for that
// subscriber only.
func (b *bus) Dispatch(ev ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	jobTopic := TopicForJob(ev.JobID)

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.matches(jobTopic) {
			continue
		}

		select {
		case sub.events <- ev:
		default:
			log.Emit(logger.WARNING, "Dropping progress event for job %s: subscriber buffer full\n", ev.JobID)
		}
	}
}

func (b *bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.events)
	}
}

func (sub *Subscription) matches(jobTopic Topic) bool {
	if _, ok := sub.topics[TopicAllJobs]; ok {
		return true
	}

	_, ok := sub.topics[jobTopic]
	return ok
}

// Events returns the channel on which matching progress events are
// delivered. The channel is closed when the subscription is closed.
func (sub *Subscription) Events() <-chan ProgressEvent {
	return sub.events
}

// Close detaches this subscription from the bus and closes the events
// channel. Safe to call multiple times.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.detach(sub)
	})
}
