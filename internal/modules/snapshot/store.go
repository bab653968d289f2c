package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists one snapshot per conversation with an idle TTL.
//
// Load returns ErrNotFound for a missing or expired conversation and ErrCorruptSnapshot for a record
// that cannot be decoded. Save writes transcript and FSM state in one operation and fails with
// ErrStaleSnapshot when the stored version moved since the snapshot was loaded; on success the
// snapshot's Version is advanced.
type Store interface {
	Load(ctx context.Context, conversationID string) (Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}

const keyPrefix = "concierge:conversation:%s"

func key(id string) string {
	return fmt.Sprintf(keyPrefix, id)
}

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, id string) (Snapshot, error) {
	raw, err := s.redis.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return Decode(raw)
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	k := key(snap.ConversationID)
	next := *snap
	next.Version = snap.Version + 1
	payload, err := Encode(next)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, k)
		if err != nil {
			return err
		}
		if stored != snap.Version {
			return ErrStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		snap.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrStaleSnapshot
	case errors.Is(err, ErrStaleSnapshot):
		return err
	default:
		return fmt.Errorf("save snapshot %s: %w", snap.ConversationID, err)
	}
}

// storedVersion reads the version of the current record; a missing or undecodable record counts as 0
// so a fresh snapshot can replace it.
func storedVersion(ctx context.Context, tx *redis.Tx, k string) (int64, error) {
	raw, err := tx.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cur, err := Decode(raw)
	if err != nil {
		return 0, nil
	}
	return cur.Version, nil
}

type memEntry struct {
	payload []byte
	savedAt time.Time
}

// MemoryStore keeps encoded snapshots in process. Entries idle longer than ttl are treated as expired.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]memEntry
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, data: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return Decode(e.payload)
}

func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if e, ok := m.live(snap.ConversationID); ok {
		if cur, err := Decode(e.payload); err == nil {
			stored = cur.Version
		}
	}
	if stored != snap.Version {
		return ErrStaleSnapshot
	}
	next := *snap
	next.Version++
	payload, err := Encode(next)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.data[snap.ConversationID] = memEntry{payload: payload, savedAt: m.now()}
	snap.Version = next.Version
	return nil
}

// Put stores raw bytes under id, bypassing the codec.
func (m *MemoryStore) Put(id string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = memEntry{payload: raw, savedAt: m.now()}
}

func (m *MemoryStore) live(id string) (memEntry, bool) {
	e, ok := m.data[id]
	if !ok {
		return memEntry{}, false
	}
	if m.ttl > 0 && m.now().Sub(e.savedAt) >= m.ttl {
		delete(m.data, id)
		return memEntry{}, false
	}
	return e, true
}
