// ABOUTME: Gateway-wide error taxonomy for adapter and API failures
// ABOUTME: Sentinels map onto HTTP statuses at the API boundary

package adapter

import "errors"

var (
	// ErrNotConnected means the tenant session is not in a ready state.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotFound means the referenced chat, message or media is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest means the caller supplied an unusable argument.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUpstreamFailure wraps backend failures with no more specific cause.
	ErrUpstreamFailure = errors.New("upstream failure")
)
