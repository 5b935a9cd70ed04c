package gossip

import "errors"

var (
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrClusterMismatch   = errors.New("cluster id mismatch")
	ErrMalformedMessage  = errors.New("malformed gossip message")
	ErrUnknownVerb       = errors.New("unknown gossip verb")
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrGenerationChanged = errors.New("endpoint generation changed")
	ErrAlreadyStarted    = errors.New("gossiper already started")
	ErrNotStarted        = errors.New("gossiper not started")
)
