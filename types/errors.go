package types

import "github.com/pkg/errors"

var (
	// ErrConfiguration means a required secret or setting is missing; fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrSignaling means the control endpoint reported a failure status.
	ErrSignaling = errors.New("signaling error")
	// ErrHandshakeFailed means the media socket failed or closed before its handshake was acked.
	ErrHandshakeFailed = errors.New("media handshake failed")
	// ErrConnectionLost means a socket closed unexpectedly.
	ErrConnectionLost = errors.New("connection lost")
	// ErrMalformedMessage means an inbound payload could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrStreamEnded means the media socket closed after streaming. Informational.
	ErrStreamEnded = errors.New("stream ended")
)
