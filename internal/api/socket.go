package api

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/api/jobs"
	"github.com/mediavault/mediavault/internal/http/websocket"
	"github.com/mediavault/mediavault/internal/job"
)

// ** Websocket API Methods ** //

// wsJobIndex replies to the requesting client with the current state of
// every job. Useful for clients that want to refresh their view without
// reconnecting (the same payload they received in their welcome message).
func (gateway *RestGateway) wsJobIndex(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	all, err := gateway.store.List(job.Filter{})
	if err != nil {
		return fmt.Errorf("failed to list jobs - %v", err.Error())
	}

	// Queue a reply to this message by setting the target of the
	// next message to the origin of the current one, with a matching ID
	// so the client can pair this reply with the source request.
	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"payload": jobs.NewDtos(all)}, websocket.Response))
	return nil
}

// wsJobStatus replies with the current state of a single job, identified
// by the 'job_id' argument of the command.
func (gateway *RestGateway) wsJobStatus(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"job_id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(message.Body["job_id"].(string))
	if err != nil {
		return fmt.Errorf("failed to fetch job - 'job_id' is not a valid UUID")
	}

	found, err := gateway.store.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return fmt.Errorf("failed to fetch job - no job with ID %s", id)
		}

		return fmt.Errorf("failed to fetch job - %v", err.Error())
	}

	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"payload": jobs.NewDto(found)}, websocket.Response))
	return nil
}
