package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrForcedReconnect      = errors.New("forced reconnect")
	ErrMessageStorm         = errors.New("too many unparseable messages")
	ErrDiscoveryUnavailable = errors.New("market discovery unavailable")
	ErrNoMarkets            = errors.New("no active markets")
	ErrLockHeld             = errors.New("lock held by another instance")
)
