// Package scheduler decides when credentials must be refreshed.
//
// Credentials are valid for one epoch. A refresh must happen inside the
// buffer window that precedes the next epoch boundary, so that the new
// credential is ready when the old one expires. The exact instant is
// randomized inside the window to spread load across clients.
package scheduler

import (
	"fmt"

	"github.com/yllada/anonvpn/common"
)

// Epoch describes the credential epoch layout, in seconds.
type Epoch struct {
	Length    int64
	Buffer    int64
	Tolerance int64
}

// DefaultEpoch is the layout used by the service.
var DefaultEpoch = Epoch{
	Length:    common.EpochLength,
	Buffer:    common.EpochBuffer,
	Tolerance: common.TimeSyncTolerance,
}

// Validate checks that a non-empty refresh window exists for every instant.
func (e Epoch) Validate() error {
	if e.Length <= 0 {
		return fmt.Errorf("%w: epoch length must be positive, got %d", common.ErrInvalidConfig, e.Length)
	}
	if e.Tolerance < 0 {
		return fmt.Errorf("%w: time sync tolerance must not be negative, got %d", common.ErrInvalidConfig, e.Tolerance)
	}
	if e.Buffer <= 2*e.Tolerance || e.Buffer >= e.Length {
		return fmt.Errorf("%w: epoch buffer %d must be greater than %d and less than %d",
			common.ErrInvalidConfig, e.Buffer, 2*e.Tolerance, e.Length)
	}
	return nil
}

// NextEpoch returns the start of the epoch the next refresh targets.
// When now is already inside the buffer before the upcoming boundary,
// the boundary after it is returned.
func (e Epoch) NextEpoch(now int64) int64 {
	offset := now % e.Length
	next := now - offset + e.Length
	if e.InBuffer(now) {
		next += e.Length
	}
	return next
}

// InBuffer reports whether now lies in the buffer window before the
// upcoming epoch boundary.
func (e Epoch) InBuffer(now int64) bool {
	return e.Buffer > e.Length-now%e.Length
}

// Window returns the range of delays, in seconds from now, in which a
// refresh may start. Both bounds are inclusive.
func (e Epoch) Window(now int64) (start, end int64) {
	next := e.NextEpoch(now)
	start = next - e.Buffer - now + e.Tolerance
	end = next - now - e.Tolerance
	return start, end
}
