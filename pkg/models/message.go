package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceDLQ marks messages produced by the pipeline's dead-letter path.
const SourceDLQ = "dlq"

// QueueMessage is the wire envelope for verification events. A message is
// owned by the pipeline from pull until ack or DLQ; DeliveryAttempts is the
// sole input to the give-up decision.
type QueueMessage struct {
	ID               string                 `json:"id"`
	Type             EventType              `json:"type"`
	Data             map[string]interface{} `json:"data"`
	Timestamp        UTCTime                `json:"timestamp"`
	Source           string                 `json:"source"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	DeliveryAttempts int                    `json:"deliveryAttempts"`
}

// DecodeEvent converts the envelope's raw data into the typed event for its
// declared type. The envelope must already have passed Validate.
func (m *QueueMessage) DecodeEvent() (VerificationEvent, error) {
	return DecodeEventData(m.Type, m.Data)
}

// DecodeEventData converts a raw event payload into the typed variant for
// the given event type. Shared by the wire envelope and the stored signal
// decoding in the promotion store.
func DecodeEventData(eventType EventType, data map[string]interface{}) (VerificationEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode message data: %w", err)
	}

	switch eventType {
	case EventTypeAutomatedTest:
		var e AutomatedTestResult
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode automated test result: %w", err)
		}
		return e, nil
	case EventTypeCommunityVerification:
		var e CommunityVerification
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode community verification: %w", err)
		}
		return e, nil
	case EventTypeCommunityTip:
		var e CommunityTip
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode community tip: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// DeadLetter builds the DLQ record for a message that exhausted its delivery
// attempts. The original payload is preserved alongside the failure context.
func (m *QueueMessage) DeadLetter(cause error, failedAt time.Time) QueueMessage {
	data := make(map[string]interface{}, len(m.Data)+4)
	for k, v := range m.Data {
		data[k] = v
	}
	data["originalMessageId"] = m.ID
	data["error"] = cause.Error()
	data["failedAt"] = failedAt.UTC().Format(time.RFC3339Nano)
	data["deliveryAttempts"] = m.DeliveryAttempts

	return QueueMessage{
		ID:               "dlq_" + m.ID,
		Type:             m.Type,
		Data:             data,
		Timestamp:        NewUTCTime(failedAt),
		Source:           SourceDLQ,
		CorrelationID:    m.CorrelationID,
		DeliveryAttempts: m.DeliveryAttempts,
	}
}
