package reliability

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// IsTimeout classifies transient receive-side timeouts that are worth
// retrying in place. Cancellation of the caller's own context is not a timeout.
func IsTimeout(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
