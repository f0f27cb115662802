package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/harvester/internal/core/domain"
)

// mapAPIError translates a gateway error payload into the domain error
// taxonomy. Server-specified waits carry the exact wait the platform
// demanded.
func mapAPIError(method string, apiErr *apiError) error {
	msg := apiErr.Message

	switch {
	case strings.HasPrefix(msg, "FLOOD_WAIT"):
		return &domain.FloodWaitError{Seconds: waitSeconds(msg, apiErr.RetryAfter)}

	case strings.HasPrefix(msg, "SLOW_MODE_WAIT"), strings.HasPrefix(msg, "SLOWMODE_WAIT"):
		return &domain.SlowModeWaitError{Seconds: waitSeconds(msg, apiErr.RetryAfter)}

	case strings.HasPrefix(msg, "TIMEOUT"):
		return &domain.TimeoutError{Op: method}

	case strings.HasPrefix(msg, "FILE_"):
		return &domain.FetchError{
			Resource: method,
			Err:      fmt.Errorf("%s (%d)", msg, apiErr.Code),
		}

	case apiErr.Code == 401, apiErr.Code == 403,
		strings.HasPrefix(msg, "AUTH_"), strings.HasPrefix(msg, "SESSION_"):
		return fmt.Errorf("%s: %w", msg, domain.ErrUnauthorized)

	case apiErr.Code == 404,
		strings.HasSuffix(msg, "_NOT_FOUND"),
		msg == "PEER_ID_INVALID", msg == "USERNAME_INVALID":
		return fmt.Errorf("%s: %w", msg, domain.ErrPeerNotFound)

	default:
		return &domain.ProtocolError{Code: apiErr.Code, Message: msg}
	}
}

// waitSeconds prefers the structured retry_after field and falls back
// to the trailing number in messages like "FLOOD_WAIT_120".
func waitSeconds(msg string, retryAfter float64) float64 {
	if retryAfter > 0 {
		return retryAfter
	}
	if idx := strings.LastIndex(msg, "_"); idx >= 0 {
		if n, err := strconv.ParseFloat(msg[idx+1:], 64); err == nil {
			return n
		}
	}
	return 60
}

// errorKind labels an error for the metrics vector.
func errorKind(err error) string {
	var flood *domain.FloodWaitError
	var slow *domain.SlowModeWaitError
	var timeout *domain.TimeoutError
	var fetch *domain.FetchError
	var proto *domain.ProtocolError

	switch {
	case errors.As(err, &flood):
		return "flood_wait"
	case errors.As(err, &slow):
		return "slow_mode"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &fetch):
		return "fetch"
	case errors.Is(err, domain.ErrUnauthorized):
		return "auth"
	case errors.Is(err, domain.ErrPeerNotFound):
		return "not_found"
	case errors.As(err, &proto):
		return "protocol"
	default:
		return "other"
	}
}
