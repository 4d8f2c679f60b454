package source

import (
	"errors"
	"fmt"
)

// ErrResolution is the parent of every error returned while turning a request
// into an upstream locator. Requests failing with it never reach a session.
var ErrResolution = errors.New("source resolution failed")

var (
	// ErrMalformedSource is returned for an empty or unusable source path,
	// or a channel with no template for the requested mode.
	ErrMalformedSource = fmt.Errorf("%w: malformed source", ErrResolution)

	// ErrChannelNotFound is returned when a channel ID is not in the catalog.
	ErrChannelNotFound = fmt.Errorf("%w: channel not found", ErrResolution)

	// ErrInvalidTimeRange is returned for a malformed or empty tvdr range.
	ErrInvalidTimeRange = fmt.Errorf("%w: invalid time range", ErrResolution)

	// ErrPlaybackUnsupported is returned when a time range is requested for a
	// channel without a playback template.
	ErrPlaybackUnsupported = fmt.Errorf("%w: playback not available for channel", ErrResolution)
)
