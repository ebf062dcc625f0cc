package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotOpen      = errors.New("session not open")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMarketCancelled     = errors.New("market cancelled")
	ErrMarketUnresolved    = errors.New("market not resolved yet")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)
