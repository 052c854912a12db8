package models

import "time"

type QueueMessageBuilder struct {
	msg *QueueMessage
}

func NewQueueMessageBuilder() *QueueMessageBuilder {
	return &QueueMessageBuilder{
		msg: &QueueMessage{
			Data: make(map[string]interface{}),
		},
	}
}

func (b *QueueMessageBuilder) WithID(id string) *QueueMessageBuilder {
	b.msg.ID = id
	return b
}

func (b *QueueMessageBuilder) WithType(t EventType) *QueueMessageBuilder {
	b.msg.Type = t
	return b
}

func (b *QueueMessageBuilder) WithData(data map[string]interface{}) *QueueMessageBuilder {
	b.msg.Data = data
	return b
}

func (b *QueueMessageBuilder) WithDataField(name string, value interface{}) *QueueMessageBuilder {
	if b.msg.Data == nil {
		b.msg.Data = make(map[string]interface{})
	}
	b.msg.Data[name] = value
	return b
}

func (b *QueueMessageBuilder) WithTimestamp(t time.Time) *QueueMessageBuilder {
	b.msg.Timestamp = NewUTCTime(t)
	return b
}

func (b *QueueMessageBuilder) WithSource(source string) *QueueMessageBuilder {
	b.msg.Source = source
	return b
}

func (b *QueueMessageBuilder) WithCorrelationID(id string) *QueueMessageBuilder {
	b.msg.CorrelationID = id
	return b
}

func (b *QueueMessageBuilder) WithDeliveryAttempts(n int) *QueueMessageBuilder {
	b.msg.DeliveryAttempts = n
	return b
}

func (b *QueueMessageBuilder) Build() *QueueMessage {
	if b.msg.Timestamp.IsZero() {
		b.msg.Timestamp = NewUTCTime(time.Now())
	}
	return b.msg
}
