package model

import (
	"errors"
)

var (
	// ErrProtocol is fatal for the whole run: a minion and the controller
	// disagree about the protocol, e.g. an unsupported action.
	ErrProtocol = errors.New("protocol error")
	ErrNoUnits  = errors.New("no mutation units")
)
