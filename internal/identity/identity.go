// Package identity declares the collaborator surfaces the enrichment
// pipeline depends on but does not own: mapping platform accounts to
// stable person keys and resolving display names for prompt building.
package identity

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownPerson = errors.New("person key not found")

// PersonResolver maps a (platform, platform user id) pair to the stable
// person key the profile store derives record ids from.
type PersonResolver interface {
	ResolvePersonKey(ctx context.Context, platform, platformUserID string) (string, error)
}

// NameResolver answers display names for a batch of platform user ids.
// Missing entries are simply absent from the result map.
type NameResolver interface {
	BatchDisplayNames(ctx context.Context, platform string, userIDs []string) (map[string]string, error)
}

// Message is one entry of a conversation snapshot.
type Message struct {
	UserID      string
	DisplayName string
	Text        string
	Timestamp   time.Time
}

// HistoryProvider supplies ordered message snapshots for a stream up to
// a point in time, newest last.
type HistoryProvider interface {
	MessagesBefore(streamID string, before time.Time, limit int) []Message
	RecentSpeakers(streamID string, limit int) []string
}

// PlatformKeyResolver derives person keys directly from the platform
// account. It serves deployments without a cross-platform identity
// service, where one account is one person.
type PlatformKeyResolver struct{}

func (PlatformKeyResolver) ResolvePersonKey(_ context.Context, platform, platformUserID string) (string, error) {
	if platform == "" || platformUserID == "" {
		return "", ErrUnknownPerson
	}
	return platform + ":" + platformUserID, nil
}
