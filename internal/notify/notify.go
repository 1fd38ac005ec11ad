// Package notify renders and delivers assembled digests.
package notify

import (
	"context"

	"opportunist/internal/model"
)

// Notifier delivers one digest to the user. Delivery happens after the
// digest's fingerprints are recorded, so a crash between the two leans
// toward a missed digest rather than a duplicate one.
type Notifier interface {
	Deliver(ctx context.Context, digest model.Digest) error
}
