package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateQueueMessage checks the envelope for the fields the pipeline
// requires before it will hand the message to a handler. A message failing
// here is acked and dropped; retrying cannot make it valid.
func ValidateQueueMessage(msg *QueueMessage) error {
	if msg == nil {
		return &ValidationError{
			Field:   "message",
			Message: "queue message cannot be nil",
		}
	}

	if msg.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if !msg.Type.Valid() {
		return &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown event type '%s'", msg.Type),
		}
	}

	if msg.Data == nil {
		return &ValidationError{
			Field:   "data",
			Message: "message data cannot be nil",
		}
	}

	if msg.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "message timestamp is required",
		}
	}

	if _, ok := msg.Data["promotionId"].(string); !ok {
		return &ValidationError{
			Field:   "data.promotionId",
			Message: "promotionId is required",
		}
	}

	return nil
}
