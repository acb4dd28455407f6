package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnavailable        = errors.New("upstream unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPayoutsUnavailable = errors.New("payouts unavailable")
	ErrWSDisconnect       = errors.New("websocket disconnected")
)
