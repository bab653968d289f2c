package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"concierge/internal/modules/booking"
	"concierge/internal/types"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// reachable builds a snapshot for every state with the data that state would carry.
func reachable(t *testing.T) []Snapshot {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		loc = time.FixedZone("WET", 0)
	}
	start := time.Date(2025, 1, 10, 10, 0, 0, 0, loc)
	now := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)

	var out []Snapshot
	for i, st := range booking.States {
		s := New(fmt.Sprintf("conv-%d", i), now)
		s.Version = int64(i)
		s.FSM.State = st
		d := booking.NewCollectedData()
		if st.Ordinal() >= booking.StateServiceSelection.Ordinal() {
			d.Services = []string{"haircut", "beard"}
		}
		if st.Ordinal() >= booking.StateSlotSelection.Ordinal() {
			d.ProviderID = "P1"
			s.FSM.Offers = booking.Offers{State: st, Items: []booking.Offer{{ID: "s1", Label: "Fri 10:00", Start: &start, DurationMinutes: 30}}}
		}
		if st.Ordinal() >= booking.StateCustomerData.Ordinal() {
			d.Slot = &types.Slot{Start: start, DurationMinutes: 45}
		}
		if st.Ordinal() >= booking.StateConfirmation.Ordinal() {
			d.CustomerName = "Ana"
			d.Notes = "first \"visit\" ✂"
		}
		if st == booking.StateBooked {
			d.ReservationID = "01HRES"
			d.PaymentURL = "https://pay.example/x"
		}
		s.FSM.Data = d
		s.Append(RoleUser, "hello", now, 0)
		s.Append(RoleAssistant, "hi", now.Add(time.Second), 0)
		out = append(out, s)
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	for _, s := range reachable(t) {
		first, err := Encode(s)
		require.NoError(t, err)
		decoded, err := Decode(first)
		require.NoError(t, err)
		second, err := Encode(decoded)
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second), "state %s", s.FSM.State)
		assert.Equal(t, s.FSM.State, decoded.FSM.State)
		assert.Equal(t, s.FSM.Data.Services, decoded.FSM.Data.Services)
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	cases := map[string]string{
		"not json":      `{{{`,
		"no id":         `{"fsm_state":{"state":"idle"}}`,
		"unknown state": `{"conversation_id":"c","fsm_state":{"state":"checkout"}}`,
		"wrong type":    `{"conversation_id":"c","fsm_state":{"state":"idle","collected_data":{"services":"haircut"}}}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		assert.True(t, errors.Is(err, ErrCorruptSnapshot), "%s: %v", name, err)
	}
}

func TestDecodeFillsEmptyCollections(t *testing.T) {
	s, err := Decode([]byte(`{"conversation_id":"c","fsm_state":{"state":"idle","collected_data":{}}}`))
	require.NoError(t, err)
	assert.NotNil(t, s.FSM.Data.Services)
	assert.NotNil(t, s.Transcript)
}

func TestAppendTrimsTranscript(t *testing.T) {
	s := New("c", time.Now())
	for i := 0; i < 5; i++ {
		s.Append(RoleUser, fmt.Sprint(i), time.Now(), 3)
	}
	require.Len(t, s.Transcript, 3)
	assert.Equal(t, "2", s.Transcript[0].Text)
	assert.Equal(t, "4", s.Transcript[2].Text)
}

func TestMemoryStoreVersioningAndTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Hour)
	now := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Load(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	s := New("c1", now)
	require.NoError(t, m.Save(ctx, &s))
	assert.Equal(t, int64(1), s.Version)

	a, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	b, err := m.Load(ctx, "c1")
	require.NoError(t, err)

	a.FSM.State = booking.StateServiceSelection
	require.NoError(t, m.Save(ctx, &a))
	b.FSM.State = booking.StateIdle
	assert.ErrorIs(t, m.Save(ctx, &b), ErrStaleSnapshot, "second writer loaded an older copy")

	got, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateServiceSelection, got.FSM.State)

	now = now.Add(time.Hour)
	_, err = m.Load(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound, "idle past TTL")
}

func TestMemoryStoreCorruptRecordCanBeReplaced(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Hour)
	m.Put("c1", []byte("garbage"))

	_, err := m.Load(ctx, "c1")
	require.ErrorIs(t, err, ErrCorruptSnapshot)

	fresh := New("c1", time.Now())
	require.NoError(t, m.Save(ctx, &fresh))
	got, err := m.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateIdle, got.FSM.State)
}

func TestLocalLockerSerializesPerConversation(t *testing.T) {
	l := NewLocalLocker()
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			unlock, err := l.Lock(context.Background(), "same")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			unlock()
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight)
	assert.Empty(t, l.locks, "lock entries are cleaned up")
}

func TestLocalLockerDifferentConversationsAndTimeout(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err, "other conversations are not blocked")
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlockA()
	unlockA() // second call is a no-op
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CONCIERGE_TEST_REDIS")
	if addr == "" {
		t.Skip("CONCIERGE_TEST_REDIS not set; skipping redis test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStore(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	store := NewRedisStore(rdb, time.Minute)
	id := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { rdb.Del(context.Background(), key(id)) })

	s := New(id, time.Now().UTC())
	require.NoError(t, store.Save(ctx, &s))

	a, err := store.Load(ctx, id)
	require.NoError(t, err)
	b, err := store.Load(ctx, id)
	require.NoError(t, err)
	a.Append(RoleUser, "hi", time.Now().UTC(), 10)
	require.NoError(t, store.Save(ctx, &a))
	assert.ErrorIs(t, store.Save(ctx, &b), ErrStaleSnapshot)

	ttl, err := rdb.TTL(ctx, key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	rdb.Set(ctx, key(id), "{", time.Minute)
	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestRedisLocker(t *testing.T) {
	rdb := testRedis(t)
	l := NewRedisLocker(rdb, time.Second)
	id := fmt.Sprintf("test-%d", time.Now().UnixNano())

	unlock, err := l.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, id)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := l.Lock(context.Background(), id)
	require.NoError(t, err)
	unlock2()
}
