// Package messaging 发布实体生命周期事件（created/updated/deleted/restored），
// 传输层可以是进程内、Redis Streams 或 NATS JetStream。
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// 消息类型常量
const (
	MessageTypeEvent = "event"
)

// 生命周期动作
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionRestored = "restored"
)

// 元数据键
const (
	MetaProvider = "provider"
	MetaEntity   = "entity"
	MetaAction   = "action"
)

// IMessage 消息接口
type IMessage interface {
	// GetID 获取消息ID
	GetID() string

	// GetType 获取消息类型，生命周期事件为 "<entity>.<action>"
	GetType() string

	// GetTimestamp 获取时间戳
	GetTimestamp() time.Time

	// GetPayload 获取消息数据
	GetPayload() any

	// GetMetadata 获取元数据
	GetMetadata() map[string]any
}

// Message 消息基础实现
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

// GetMetadata 获取元数据
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// NewMessage 创建新消息
func NewMessage(messageID, messageType string, data any) *Message {
	return &Message{
		ID:        messageID,
		Type:      messageType,
		Timestamp: time.Now(),
		Payload:   data,
		Metadata:  make(map[string]any),
	}
}

// EventType 生命周期事件的消息类型
func EventType(entity, action string) string {
	return entity + "." + action
}

// NewEvent 创建生命周期事件，ID 为随机 UUID
func NewEvent(provider, entity, action string, payload map[string]any) *Message {
	msg := NewMessage(uuid.NewString(), EventType(entity, action), payload)
	msg.SetMetadata(MetaProvider, provider)
	msg.SetMetadata(MetaEntity, entity)
	msg.SetMetadata(MetaAction, action)
	return msg
}
