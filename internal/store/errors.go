package store

import "errors"

var (
	ErrNotFound     = errors.New("issue not found")
	ErrUserNotFound = errors.New("user not found")
)
