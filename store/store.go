// Package store keeps feedback records so pushes to removed devices can be
// skipped. Both stores implement apns.FeedbackSink.
package store

import (
	"context"

	apns "github.com/mdigger/pushgate"
)

// Suppressor reports whether a device token must not receive pushes.
type Suppressor interface {
	IsSuppressed(ctx context.Context, token string) (bool, error)
}

var (
	_ apns.FeedbackSink = (*Redis)(nil)
	_ apns.FeedbackSink = (*SQLite)(nil)
	_ Suppressor        = (*Redis)(nil)
	_ Suppressor        = (*SQLite)(nil)
)

// Filter returns the tokens that s does not suppress, keeping their order.
func Filter(ctx context.Context, s Suppressor, tokens []string) ([]string, error) {
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		suppressed, err := s.IsSuppressed(ctx, token)
		if err != nil {
			return nil, err
		}
		if !suppressed {
			kept = append(kept, token)
		}
	}
	return kept, nil
}
