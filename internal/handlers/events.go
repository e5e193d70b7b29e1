package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/sse"
)

type EventsHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewEventsHandler(log *logger.Logger, hub *sse.Hub) *EventsHandler {
	return &EventsHandler{log: log.With("Handler", "EventsHandler"), hub: hub}
}

// Stream registers a fresh progress session and holds the connection open
// until the browser goes away. The first frame carries the session id the
// client must echo on uploads.
func (eh *EventsHandler) Stream(c *gin.Context) {
	client := eh.hub.Register()
	defer eh.hub.Unregister(client)

	eh.log.Info("Progress stream opened", "clientID", client.ID)
	eh.hub.ServeHTTP(c.Writer, c.Request, client)
	eh.log.Info("Progress stream closed", "clientID", client.ID)
}
