package upstream

import (
	"errors"

	"github.com/antoniostano/diavoice/internal/reliability"
)

var (
	ErrConnectionExhausted = errors.New("upstream connect failed after all retries")
	ErrSendFailed          = errors.New("upstream send failed")
	ErrReceiveFailed       = errors.New("upstream receive failed")
	ErrClosed              = errors.New("upstream stream closed")
)

// IsRecoverableTimeout reports whether a receive error should be retried in
// place rather than ending the session.
func IsRecoverableTimeout(err error) bool {
	if errors.Is(err, ErrClosed) {
		return false
	}
	return reliability.IsTimeout(err)
}
