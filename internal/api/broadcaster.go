package api

import (
	"context"

	"github.com/mediavault/mediavault/internal/api/jobs"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/http/websocket"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
)

const titleJobProgressUpdate = "JOB_PROGRESS_UPDATE"

type (
	// broadcaster bridges the in-process progress event bus and the
	// websocket hub: every progress event published for any job is pushed
	// to all connected clients. Events have no replay; clients receive a
	// snapshot of all jobs in their welcome payload instead (see
	// connectionPayload), so delivery is at-most-once from connect time.
	//
	// The subscription is taken at construction time so events published
	// between gateway construction and run are buffered, not lost.
	broadcaster struct {
		socketHub *websocket.SocketHub
		events    *event.Subscription
		store     jobs.Store
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, eventBus event.Coordinator, store jobs.Store) *broadcaster {
	return &broadcaster{
		socketHub: socketHub,
		events:    eventBus.Subscribe(event.TopicAllJobs),
		store:     store,
	}
}

// run forwards progress events to the socket hub until the context is
// cancelled.
func (hub *broadcaster) run(ctx context.Context) {
	defer hub.events.Close()

	for {
		select {
		case ev := <-hub.events.Events():
			hub.socketHub.Send(&websocket.SocketMessage{
				Title: titleJobProgressUpdate,
				Body: map[string]interface{}{
					"job_id":    ev.JobID,
					"progress":  ev.Progress,
					"message":   ev.Message,
					"timestamp": ev.Timestamp,
				},
				Type: websocket.Update,
			})
		case <-ctx.Done():
			return
		}
	}
}

// connectionPayload composes the welcome body for a newly connected
// client: the current state of every job, so the client does not depend
// on events it missed before connecting.
func (hub *broadcaster) connectionPayload() map[string]interface{} {
	all, err := hub.store.List(job.Filter{})
	if err != nil {
		log.Emit(logger.ERROR, "Failed to compose welcome payload: %v\n", err)
		return map[string]interface{}{}
	}

	return map[string]interface{}{"jobs": jobs.NewDtos(all)}
}
