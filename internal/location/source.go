// Package location holds the two GPS source adapters. Both expose the same
// capability contract; the hybrid coordinator decides which one feeds the
// session at any instant.
package location

import (
	"context"

	"backend-stridetrack/internal/fix"
)

// Source is the capability contract shared by the foreground and background
// adapters. Each source owns its own cumulative distance counter,
// independent of the other.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	OnFix(fn func(fix.Fix))
	AccumulatedDistance() float64
}

var (
	_ Source = (*Foreground)(nil)
	_ Source = (*Background)(nil)
)
