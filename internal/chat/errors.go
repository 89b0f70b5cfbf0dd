package chat

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRoomNotFound     = errors.New("room not found")
	ErrParentNotFound   = errors.New("parent message not found")
	ErrValidation       = errors.New("invalid message")
	ErrPersistence      = errors.New("message store unavailable")
	ErrNotBootstrapped  = errors.New("sequence allocator not bootstrapped")
)
