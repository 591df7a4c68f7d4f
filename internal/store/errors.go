package store

import "errors"

var (
	ErrVisitNotFound = errors.New("visit not found")
	ErrTerminalVisit = errors.New("visit already archived")
)
