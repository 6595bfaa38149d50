package models

// ConversationSummary is one row of the direct-message feed.
type ConversationSummary struct {
	PeerID      string   `json:"peer_id"`
	RoomID      string   `json:"room_id"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int64    `json:"unread_count"`
}

// HistoryQuery pages through a room's history. BeforeID and AfterID are
// exclusive bounds; zero means unbounded. A limited query returns the newest
// page unless AfterID or Forward is set, in which case it returns the oldest.
type HistoryQuery struct {
	BeforeID uint
	AfterID  uint
	Limit    int
	Forward  bool
	// Between, when set, keeps only messages exchanged between these two users.
	Between []string
}

// PagesForward reports whether a limited query takes the oldest page.
func (q HistoryQuery) PagesForward() bool { return q.Forward || q.AfterID > 0 }

// Matches reports whether msg passes the Between filter.
func (q HistoryQuery) Matches(msg *Message) bool {
	if len(q.Between) != 2 {
		return true
	}
	a, b := q.Between[0], q.Between[1]
	return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
}
