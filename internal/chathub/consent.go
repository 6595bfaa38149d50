package chathub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingPair is a proposed pairing waiting for both likes.
type PendingPair struct {
	PairID   string
	Members  [2]string
	Likes    map[string]bool
	Deadline time.Time
}

func (p *PendingPair) hasMember(userID string) bool {
	return p.Members[0] == userID || p.Members[1] == userID
}

// Other returns the member that is not userID.
func (p *PendingPair) Other(userID string) string {
	if p.Members[0] == userID {
		return p.Members[1]
	}
	return p.Members[0]
}

// Likers returns the members that have liked, in member order.
func (p *PendingPair) Likers() []string {
	out := make([]string, 0, 2)
	for _, m := range p.Members {
		if p.Likes[m] {
			out = append(out, m)
		}
	}
	return out
}

func (p *PendingPair) copy() PendingPair {
	likes := make(map[string]bool, len(p.Likes))
	for k, v := range p.Likes {
		likes[k] = v
	}
	return PendingPair{PairID: p.PairID, Members: p.Members, Likes: likes, Deadline: p.Deadline}
}

// ConsentGate tracks pending pairs and promotes each at most once.
type ConsentGate struct {
	mu     sync.Mutex
	pairs  map[string]*PendingPair
	byUser map[string]string // userID -> pairID
}

func NewConsentGate() *ConsentGate {
	return &ConsentGate{
		pairs:  make(map[string]*PendingPair),
		byUser: make(map[string]string),
	}
}

// Propose opens a pending pair for a and b with an empty like-set.
func (g *ConsentGate) Propose(a, b string, timeout time.Duration) PendingPair {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := &PendingPair{
		PairID:   uuid.New().String(),
		Members:  [2]string{a, b},
		Likes:    make(map[string]bool, 2),
		Deadline: time.Now().Add(timeout),
	}
	g.pairs[p.PairID] = p
	g.byUser[a] = p.PairID
	g.byUser[b] = p.PairID
	return p.copy()
}

// RecordLike adds userID to the like-set. When both members have liked the pair is
// removed and promoted is true; only the call that completes the set sees it.
func (g *ConsentGate) RecordLike(pairID, userID string) (promoted bool, pair PendingPair, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pairs[pairID]
	if !ok {
		return false, PendingPair{}, ErrUnknownPair
	}
	if !p.hasMember(userID) {
		return false, PendingPair{}, ErrNotPairMember
	}
	p.Likes[userID] = true
	if len(p.Likes) < 2 {
		return false, p.copy(), nil
	}
	g.removeLocked(p)
	return true, p.copy(), nil
}

// Withdraw abandons the pair userID belongs to, if any.
func (g *ConsentGate) Withdraw(userID string) (PendingPair, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pairID, ok := g.byUser[userID]
	if !ok {
		return PendingPair{}, false
	}
	p := g.pairs[pairID]
	g.removeLocked(p)
	return p.copy(), true
}

// Decline abandons pairID on behalf of userID.
func (g *ConsentGate) Decline(pairID, userID string) (PendingPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pairs[pairID]
	if !ok {
		return PendingPair{}, ErrUnknownPair
	}
	if !p.hasMember(userID) {
		return PendingPair{}, ErrNotPairMember
	}
	g.removeLocked(p)
	return p.copy(), nil
}

// Expire removes pairID when its deadline has been reached.
func (g *ConsentGate) Expire(pairID string) (PendingPair, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pairs[pairID]
	if !ok {
		return PendingPair{}, false
	}
	g.removeLocked(p)
	return p.copy(), true
}

// PairFor returns the pending pair userID belongs to.
func (g *ConsentGate) PairFor(userID string) (PendingPair, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pairID, ok := g.byUser[userID]
	if !ok {
		return PendingPair{}, false
	}
	return g.pairs[pairID].copy(), true
}

func (g *ConsentGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pairs)
}

func (g *ConsentGate) removeLocked(p *PendingPair) {
	delete(g.pairs, p.PairID)
	for _, m := range p.Members {
		if g.byUser[m] == p.PairID {
			delete(g.byUser, m)
		}
	}
}
