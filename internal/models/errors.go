package models

import "errors"

var (
	ErrInvalidAccount     = errors.New("account name must be 3+ and password 6+ characters of [0-9a-zA-Z_]")
	ErrAccountTaken       = errors.New("account name is already taken")
	ErrInvalidCredentials = errors.New("invalid account name or password")
	ErrForbidden          = errors.New("authority is required")
	ErrUnsupportedMedia   = errors.New("only jpeg, png and gif images can be posted")
	ErrPayloadTooLarge    = errors.New("file is too large")
	ErrNotFound           = errors.New("not found")
)
