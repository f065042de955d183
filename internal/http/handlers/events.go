package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/arbor-backend/internal/http/response"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/realtime"
)

// EventsHandler streams tree mutation events to clients over SSE. Each
// connection is scoped to one topic channel; reconnecting clients resync
// through the read API, the stream carries no replay.
type EventsHandler struct {
	log *logger.Logger
	hub *realtime.SSEHub
}

func NewEventsHandler(log *logger.Logger, hub *realtime.SSEHub) *EventsHandler {
	return &EventsHandler{log: log, hub: hub}
}

// GET /api/v1/topics/:id/events
func (h *EventsHandler) Stream(c *gin.Context) {
	topicID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return
	}
	if h.hub == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_unavailable", nil)
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, topicID.String())

	observability.Current().SSEClientsInc()
	defer observability.Current().SSEClientsDec()

	h.log.Info("SSE stream open", "topic_id", topicID.String(), "client_id", client.ID.String())
	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.hub.CloseClient(client)
	h.log.Info("SSE stream closed", "topic_id", topicID.String(), "client_id", client.ID.String())
}
