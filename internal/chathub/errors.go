package chathub

import (
	"github.com/pkg/errors"
)

var (
	ErrAlreadyMatched     = errors.New("user is already in a pending pair or match")
	ErrUnknownPair        = errors.New("pair does not exist")
	ErrNotPairMember      = errors.New("user is not a member of the pair")
	ErrUnknownRoom        = errors.New("room does not exist")
	ErrNotRoomMember      = errors.New("user is not a member of the room")
	ErrUnknownMessage     = errors.New("message does not exist")
	ErrNotOwner           = errors.New("only the sender may delete a message")
	ErrNotInMatch         = errors.New("user is not in a match")
	ErrNotConnected       = errors.New("user has no live connection")
	ErrUnknownEvent       = errors.New("unknown event type")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Wire codes sent in error events.
const (
	CodeAlreadyMatched     = "already_matched"
	CodeUnknownPair        = "unknown_pair"
	CodeNotPairMember      = "not_pair_member"
	CodeUnknownRoom        = "unknown_room"
	CodeNotRoomMember      = "not_room_member"
	CodeUnknownMessage     = "unknown_message"
	CodeNotOwner           = "not_owner"
	CodeNotInMatch         = "not_in_match"
	CodeNotConnected       = "not_connected"
	CodeUnknownEvent       = "unknown_event"
	CodePersistenceFailure = "persistence_failure"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyMatched, CodeAlreadyMatched},
	{ErrUnknownPair, CodeUnknownPair},
	{ErrNotPairMember, CodeNotPairMember},
	{ErrUnknownRoom, CodeUnknownRoom},
	{ErrNotRoomMember, CodeNotRoomMember},
	{ErrUnknownMessage, CodeUnknownMessage},
	{ErrNotOwner, CodeNotOwner},
	{ErrNotInMatch, CodeNotInMatch},
	{ErrNotConnected, CodeNotConnected},
	{ErrUnknownEvent, CodeUnknownEvent},
	{ErrPersistenceFailure, CodePersistenceFailure},
	{errBadRequest, CodeBadRequest},
}

var errBadRequest = errors.New("bad request")

// ErrorCode maps an error returned by the hub to its wire code.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// persistenceError marks err as a persistence failure while keeping the cause.
type persistenceError struct {
	cause error
}

func (e *persistenceError) Error() string { return ErrPersistenceFailure.Error() + ": " + e.cause.Error() }
func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}
func (e *persistenceError) Unwrap() error { return e.cause }

func persistenceFailure(err error) error {
	return &persistenceError{cause: err}
}
