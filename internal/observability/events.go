package observability

import "strconv"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// ConversationHeaders tags diagnostics events with the conversation they
// belong to, on top of the request correlation headers.
func ConversationHeaders(conversationID int64, requestID, traceID string) map[string]string {
	headers := BuildHeaders(requestID, traceID)
	headers["conversation_id"] = strconv.FormatInt(conversationID, 10)
	return headers
}
