package chathub

import (
	"sort"
	"strings"
	"sync"

	"pairchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type RoomKind int

const (
	RoomDirect RoomKind = iota
	RoomMatch
)

func (k RoomKind) String() string {
	if k == RoomMatch {
		return "match"
	}
	return "direct"
}

var roomIDEscaper = strings.NewReplacer(`\`, `\\`, "_", `\_`)

// DirectRoomID is the stable room of a direct-message relationship: the sorted
// user IDs joined with "_". Backslashes and underscores inside an ID are escaped
// with a backslash, so distinct pairs never share a room.
func DirectRoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return roomIDEscaper.Replace(ids[0]) + "_" + roomIDEscaper.Replace(ids[1])
}

// NewMatchRoomID returns a fresh, never reused match room ID.
func NewMatchRoomID() string {
	return models.MatchRoomPrefix + uuid.New().String()
}

// IsMatchRoom reports whether roomID belongs to a Match.
func IsMatchRoom(roomID string) bool {
	return models.IsMatchRoomID(roomID)
}

type subscriber struct {
	client Client
	// delivered is the last message ID handed to this subscriber.
	delivered uint
}

type room struct {
	id          string
	kind        RoomKind
	members     [2]string
	subscribers map[string]*subscriber
	lastMessage uint
}

func (r *room) isMember(userID string) bool {
	return r.members[0] == userID || r.members[1] == userID
}

func (r *room) peer(userID string) string {
	if r.members[0] == userID {
		return r.members[1]
	}
	return r.members[0]
}

var errStaleClient = errors.New("client is no longer the user's connection")

// RoomAllocator owns live rooms and their subscribers. Subscribers are always members.
type RoomAllocator struct {
	mu    sync.Mutex
	rooms map[string]*room
	// admit, when set, is checked under the allocator lock before every join.
	admit func(Client) bool
}

func NewRoomAllocator(admit func(Client) bool) *RoomAllocator {
	return &RoomAllocator{rooms: make(map[string]*room), admit: admit}
}

// RoomFor returns the room for a and b. Direct rooms are created on first use and
// reused afterwards; match rooms are always new.
func (ra *RoomAllocator) RoomFor(a, b string, kind RoomKind) string {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	id := DirectRoomID(a, b)
	if kind == RoomMatch {
		id = NewMatchRoomID()
	}
	if _, ok := ra.rooms[id]; !ok {
		ra.rooms[id] = &room{
			id:          id,
			kind:        kind,
			members:     [2]string{a, b},
			subscribers: make(map[string]*subscriber),
		}
	}
	return id
}

// Join subscribes client to roomID. A member joining again replaces their previous handle.
func (ra *RoomAllocator) Join(roomID string, client Client) error {
	return ra.join(roomID, client, nil)
}

// join subscribes client with its delivered mark at *from, or at the room's
// newest message when from is nil.
func (ra *RoomAllocator) join(roomID string, client Client, from *uint) error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return ErrUnknownRoom
	}
	userID := client.GetUserID()
	if !r.isMember(userID) {
		return ErrNotRoomMember
	}
	if ra.admit != nil && !ra.admit(client) {
		return errStaleClient
	}
	delivered := r.lastMessage
	if from != nil {
		delivered = *from
	}
	r.subscribers[userID] = &subscriber{client: client, delivered: delivered}
	return nil
}

// Leave unsubscribes userID and returns the last message ID they were handed.
// Direct rooms without subscribers are collected; their history stays in storage.
func (ra *RoomAllocator) Leave(roomID, userID string) (uint, bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return 0, false
	}
	sub, ok := r.subscribers[userID]
	if !ok {
		return 0, false
	}
	delete(r.subscribers, userID)
	if r.kind == RoomDirect && len(r.subscribers) == 0 {
		delete(ra.rooms, roomID)
	}
	return sub.delivered, true
}

// SwapClient points every subscription of client's user at client.
func (ra *RoomAllocator) SwapClient(client Client) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	userID := client.GetUserID()
	for _, r := range ra.rooms {
		if sub, ok := r.subscribers[userID]; ok {
			sub.client = client
		}
	}
}

// DirectRoomsOf returns the direct rooms userID is subscribed to.
func (ra *RoomAllocator) DirectRoomsOf(userID string) []string {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	var ids []string
	for id, r := range ra.rooms {
		if _, ok := r.subscribers[userID]; ok && r.kind == RoomDirect {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close discards roomID and its subscriber list, returning the former subscribers.
func (ra *RoomAllocator) Close(roomID string) []Client {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return nil
	}
	delete(ra.rooms, roomID)
	clients := make([]Client, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		clients = append(clients, sub.client)
	}
	return clients
}

// Peer returns the other member of roomID after checking userID is subscribed.
func (ra *RoomAllocator) Peer(roomID, userID string) (string, error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return "", ErrUnknownRoom
	}
	if _, ok := r.subscribers[userID]; !ok {
		return "", ErrNotRoomMember
	}
	return r.peer(userID), nil
}

// Broadcast hands ev to every subscriber except skip. When messageID is set it
// advances the room watermark and each receiving subscriber's delivered mark.
// Delivery never blocks; a full buffer drops the event for that subscriber only.
func (ra *RoomAllocator) Broadcast(roomID string, ev models.ChatEvent, messageID uint, skip string) int {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return 0
	}
	if messageID > r.lastMessage {
		r.lastMessage = messageID
	}
	delivered := 0
	for userID, sub := range r.subscribers {
		if userID == skip {
			continue
		}
		if sub.client.Deliver(ev) {
			delivered++
			if messageID > sub.delivered {
				sub.delivered = messageID
			}
		}
	}
	return delivered
}

// Subscribers returns the user IDs currently subscribed to roomID.
func (ra *RoomAllocator) Subscribers(roomID string) []string {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (ra *RoomAllocator) Exists(roomID string) bool {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	_, ok := ra.rooms[roomID]
	return ok
}

func (ra *RoomAllocator) Len() int {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return len(ra.rooms)
}
