package models

import (
	"time"

	"gorm.io/gorm"
)

// Message is a persisted chat message.
// The embedded gorm.Model provides ID, CreatedAt, UpdatedAt, and DeletedAt fields,
// which serve as the message ID and timestamps. IDs grow monotonically per table,
// so ordering by ID equals ordering by creation.
type Message struct {
	gorm.Model

	// RoomID is the identifier of the room the message was sent to.
	RoomID string `gorm:"type:text;not null;index:idx_room_msg"`
	// SenderID is the authenticated ID of the author.
	SenderID string `gorm:"type:text;not null;index:idx_room_msg"`
	// ReceiverID is the other member of the room at send time.
	ReceiverID string `gorm:"type:text;not null;index:idx_receiver_read"`
	// Content is the message body.
	Content string `gorm:"type:text;not null"`
	// ParentMessageID references the message being replied to.
	ParentMessageID *uint `gorm:"index"`

	IsRead bool `gorm:"not null;default:false;index:idx_receiver_read"`
	ReadAt *time.Time
}

// ToEvent converts a stored message into its wire representation.
func (m *Message) ToEvent() ChatEvent {
	createdAt := m.CreatedAt
	return ChatEvent{
		Type:            EventMessage,
		RoomID:          m.RoomID,
		SenderID:        m.SenderID,
		PeerID:          m.ReceiverID,
		MessageID:       m.ID,
		Content:         m.Content,
		ParentMessageID: m.ParentMessageID,
		CreatedAt:       &createdAt,
	}
}
