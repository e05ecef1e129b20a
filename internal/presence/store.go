// Package presence tracks which users are reachable right now.
//
// Entries expire on their own after a TTL. A connection that stops
// heartbeating is reported offline within one TTL window even when no
// explicit offline signal arrives; that bound is the only disconnect
// detection for ungraceful exits.
package presence

import (
	"context"
	"errors"
	"time"

	"rendezvous/internal/model"
)

const (
	DefaultTTL         = time.Hour
	DefaultActivityTTL = 30 * time.Second

	onlinePrefix   = "online:"
	activityPrefix = "activity:"
)

// ErrNoActivity is returned by GetActivity when no live snapshot exists
var ErrNoActivity = errors.New("no activity recorded")

// Store is a TTL-expiring liveness store. Every operation touches a single
// key and is atomic on its own.
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	// SetOffline is idempotent.
	SetOffline(ctx context.Context, userID string) error
	// CheckOnline returns one status per id, in input order.
	CheckOnline(ctx context.Context, userIDs []string) ([]model.PresenceStatus, error)
	// ExtendTTL refreshes the entry's lifetime, keeping last-seen.
	ExtendTTL(ctx context.Context, userID string) error
	ListOnlineUserIDs(ctx context.Context) ([]string, error)

	SetActivity(ctx context.Context, userID string, activity model.Activity) error
	GetActivity(ctx context.Context, userID string) (model.Activity, error)

	Ping(ctx context.Context) error
	Close() error
}

func offlineStatus(userID string) model.PresenceStatus {
	return model.PresenceStatus{UserID: userID}
}

func onlineStatus(userID string, lastSeen time.Time) model.PresenceStatus {
	return model.PresenceStatus{UserID: userID, IsOnline: true, LastSeen: &lastSeen}
}
