package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/velmie/messaging"
)

// DefaultSenderUserAgent is the User-Agent of the dispatcher a Sender builds for itself.
const DefaultSenderUserAgent = "velmie-messaging-webhook-sender/1.0"

// Sender is a messaging.Sender for Outbox.Flush that posts each row to the URL found in its
// "webhook_url" header. The remaining headers become HTTP headers.
type Sender struct {
	dispatcher messaging.Dispatcher
	logger     messaging.Logger
}

var _ messaging.Sender = (*Sender)(nil)

// NewSender returns a Sender. A nil dispatcher is replaced by an HTTPDispatcher with the sender User-Agent.
func NewSender(dispatcher messaging.Dispatcher, logger messaging.Logger) *Sender {
	if dispatcher == nil {
		dispatcher = NewHTTPDispatcher(WithUserAgent(DefaultSenderUserAgent))
	}
	if logger == nil {
		logger = messaging.NopLogger{}
	}

	return &Sender{dispatcher: dispatcher, logger: logger}
}

// Send implements messaging.Sender. Rows without a webhook URL are acknowledged without a request.
func (s *Sender) Send(ctx context.Context, row messaging.LegacyRow) (bool, error) {
	payload := decodeObject(row.Payload)
	headers := decodeObject(row.Headers)

	url, _ := headers["webhook_url"].(string)
	url = strings.TrimSpace(url)
	if url == "" {
		s.logger.Warn("webhook-sender-missing-url", "id", row.ID)

		return true, nil
	}

	eventType := strings.TrimSpace(row.Topic)
	if eventType == "" {
		eventType = "event"
	}

	request := map[string]any{
		"webhook_url": url,
		"payload":     payload,
	}
	delete(headers, "webhook_url")
	if len(headers) > 0 {
		request["headers"] = headers
	}

	result := s.dispatcher.Dispatch(ctx, eventType, request, messaging.DispatchMeta{
		ID:        row.ID,
		EventType: eventType,
		Retries:   row.Attempts,
	})
	if result.OK {
		return true, nil
	}

	s.logger.Warn("webhook-sender-failed", "url", url, "status", result.StatusCode, "error", result.Error())

	return false, errors.New(result.Error())
}

func decodeObject(text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil || out == nil {
		return map[string]any{}
	}

	return out
}
