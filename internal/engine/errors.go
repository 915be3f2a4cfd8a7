package engine

import (
	"errors"

	"session-core/internal/strategy"
	exchange "session-core/pkg/exchanges/common"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
	ErrCapacityExceeded = errors.New("running session limit reached")

	ErrInvalidParams       = strategy.ErrInvalidParams
	ErrUpstreamUnavailable = exchange.ErrUpstreamUnavailable
)
