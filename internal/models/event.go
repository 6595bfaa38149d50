package models

import "time"

// Inbound event types.
const (
	EventJoinQueue     = "join_queue"
	EventLeaveQueue    = "leave_queue"
	EventLike          = "like"
	EventDecline       = "decline"
	EventLeaveMatch    = "leave_match"
	EventOpenDirect    = "open_direct"
	EventCloseDirect   = "close_direct"
	EventMessage       = "message"
	EventDeleteMessage = "delete_message"
	EventRead          = "read"
)

// Outbound event types. EventMessage is shared by both directions.
const (
	EventQueued              = "queued"
	EventQueueLeft           = "queue_left"
	EventMatchProposed       = "match_proposed"
	EventPairAbandoned       = "pair_abandoned"
	EventPairExpired         = "pair_expired"
	EventMatchActive         = "match_active"
	EventMatchEnded          = "match_ended"
	EventPartnerDisconnected = "partner_disconnected"
	EventPartnerReconnected  = "partner_reconnected"
	EventDirectOpened        = "direct_opened"
	EventMessageDeleted      = "message_deleted"
	EventReadReceipt         = "read_receipt"
	EventError               = "error"
)

// ChatEvent is the single JSON frame exchanged over the websocket.
type ChatEvent struct {
	Type            string     `json:"type"`
	RoomID          string     `json:"room_id,omitempty"`
	PairID          string     `json:"pair_id,omitempty"`
	SenderID        string     `json:"sender_id,omitempty"`
	PeerID          string     `json:"peer_id,omitempty"`
	MessageID       uint       `json:"message_id,omitempty"`
	Content         string     `json:"content,omitempty"`
	ParentMessageID *uint      `json:"parent_message_id,omitempty"`
	UptoMessageID   uint       `json:"upto_message_id,omitempty"`
	State           MatchState `json:"state,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Code            string     `json:"code,omitempty"`
	Position        int        `json:"position,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

// ErrorEvent builds an outbound error frame.
func ErrorEvent(code, reason string) ChatEvent {
	return ChatEvent{Type: EventError, Code: code, Reason: reason}
}
