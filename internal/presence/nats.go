package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"rendezvous/internal/model"
)

const (
	PresenceBucket = "PRESENCE"
	ActivityBucket = "ACTIVITY"
)

// NATSStore keeps presence in JetStream key-value buckets. The bucket TTL is
// the entry TTL: every Put restarts the key's age.
type NATSStore struct {
	online     jetstream.KeyValue
	activities jetstream.KeyValue
	now        func() time.Time
}

// NewNATSStore creates or updates the PRESENCE and ACTIVITY buckets
func NewNATSStore(ctx context.Context, js jetstream.JetStream, ttl, activityTTL time.Duration) (*NATSStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if activityTTL <= 0 {
		activityTTL = DefaultActivityTTL
	}

	online, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      PresenceBucket,
		Description: "Online users and their last-seen time",
		History:     1,
		TTL:         ttl,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kv bucket '%s': %w", PresenceBucket, err)
	}

	activities, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ActivityBucket,
		Description: "Short-lived user activity snapshots",
		History:     1,
		TTL:         activityTTL,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kv bucket '%s': %w", ActivityBucket, err)
	}

	return &NATSStore{online: online, activities: activities, now: time.Now}, nil
}

func (s *NATSStore) SetOnline(ctx context.Context, userID string) error {
	if _, err := s.online.Put(ctx, userID, []byte(s.now().UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("kv put online %s: %w", userID, err)
	}
	return nil
}

func (s *NATSStore) SetOffline(ctx context.Context, userID string) error {
	err := s.online.Delete(ctx, userID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete online %s: %w", userID, err)
	}
	return nil
}

func (s *NATSStore) CheckOnline(ctx context.Context, userIDs []string) ([]model.PresenceStatus, error) {
	statuses := make([]model.PresenceStatus, 0, len(userIDs))
	for _, id := range userIDs {
		entry, err := s.online.Get(ctx, id)
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
			statuses = append(statuses, offlineStatus(id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kv get online %s: %w", id, err)
		}

		lastSeen, err := time.Parse(time.RFC3339Nano, string(entry.Value()))
		if err != nil {
			lastSeen = entry.Created()
		}
		statuses = append(statuses, onlineStatus(id, lastSeen))
	}
	return statuses, nil
}

func (s *NATSStore) ExtendTTL(ctx context.Context, userID string) error {
	entry, err := s.online.Get(ctx, userID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return s.SetOnline(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("kv get online %s: %w", userID, err)
	}

	// 同じ値を書き直すと経過時間がリセットされる
	if _, err := s.online.Put(ctx, userID, entry.Value()); err != nil {
		return fmt.Errorf("kv refresh online %s: %w", userID, err)
	}
	return nil
}

func (s *NATSStore) ListOnlineUserIDs(ctx context.Context) ([]string, error) {
	lister, err := s.online.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv list online: %w", err)
	}
	defer lister.Stop()

	ids := []string{}
	for key := range lister.Keys() {
		ids = append(ids, key)
	}
	return ids, nil
}

func (s *NATSStore) SetActivity(ctx context.Context, userID string, activity model.Activity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	if _, err := s.activities.Put(ctx, userID, data); err != nil {
		return fmt.Errorf("kv put activity %s: %w", userID, err)
	}
	return nil
}

func (s *NATSStore) GetActivity(ctx context.Context, userID string) (model.Activity, error) {
	entry, err := s.activities.Get(ctx, userID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.Activity{}, ErrNoActivity
	}
	if err != nil {
		return model.Activity{}, fmt.Errorf("kv get activity %s: %w", userID, err)
	}

	var activity model.Activity
	if err := json.Unmarshal(entry.Value(), &activity); err != nil {
		return model.Activity{}, fmt.Errorf("unmarshal activity: %w", err)
	}
	return activity, nil
}

func (s *NATSStore) Ping(ctx context.Context) error {
	_, err := s.online.Status(ctx)
	return err
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *NATSStore) Close() error { return nil }
