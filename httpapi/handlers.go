package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/velmie/messaging"
)

type errorResponse struct {
	Error string `json:"error"`
}

type processResponse struct {
	Processed bool   `json:"processed"`
	EventKey  string `json:"event_key,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ingest(c *gin.Context) {
	messageID := strings.TrimSpace(c.GetHeader(HeaderMessageID))
	if messageID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: HeaderMessageID + " header is required"})
		return
	}
	topic := strings.TrimSpace(c.Param("topic"))

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be a JSON object"})
		return
	}

	in, err := s.inbox(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	var handlerErr error
	processed, err := in.Process(c.Request.Context(), messageID, topic, messaging.HandlerFunc(
		func(ctx context.Context, msg messaging.InboxMessage) error {
			handlerErr = s.transport.Publish(ctx, messaging.NewEnvelope(msg.Topic, body, map[string]any{
				"message_id": msg.ID,
				"event_key":  msg.EventKey,
				"source":     msg.Source,
			}))

			return handlerErr
		}))

	switch {
	case errors.Is(err, messaging.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case handlerErr != nil:
		c.JSON(http.StatusBadGateway, errorResponse{Error: handlerErr.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	case processed:
		c.JSON(http.StatusAccepted, processResponse{Processed: true, EventKey: in.EventKey(messageID)})
	default:
		c.JSON(http.StatusOK, processResponse{Processed: false, EventKey: in.EventKey(messageID)})
	}
}

func (s *Server) ack(c *gin.Context) {
	in, err := s.inbox(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if err := in.Ack(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, messaging.ErrInvalidArgument) {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
