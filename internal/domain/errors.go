package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
