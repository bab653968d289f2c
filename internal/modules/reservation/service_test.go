// README: Ledger tests against the in-memory store (claims, exactly-once resolution, hold policy).
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"concierge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	slotP1   = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	policy   = HoldPolicy{SameDay: 15 * time.Minute, Advance: 60 * time.Minute, Location: time.UTC}
	claimCmd = ClaimCommand{ProviderID: "P1", SlotStart: slotP1, DurationMinutes: 30, ConversationID: "c1"}
)

// clock is a settable time source shared by a test and the service under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestService(t *testing.T, store Repository) (*Service, *clock) {
	t.Helper()
	c := &clock{now: t0}
	svc := NewService(store, policy, nil)
	svc.now = c.Now
	return svc, c
}

func TestClaimValidation(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	bad := []ClaimCommand{
		{SlotStart: slotP1, DurationMinutes: 30, ConversationID: "c"},
		{ProviderID: "P1", DurationMinutes: 30, ConversationID: "c"},
		{ProviderID: "P1", SlotStart: slotP1, ConversationID: "c"},
		{ProviderID: "P1", SlotStart: slotP1, DurationMinutes: 30},
		{ProviderID: "P1", SlotStart: t0.Add(-time.Hour), DurationMinutes: 30, ConversationID: "c"},
	}
	for i, cmd := range bad {
		_, err := svc.Claim(ctx, cmd)
		assert.ErrorIs(t, err, ErrBadRequest, "case %d", i)
	}
}

func TestClaimSetsHoldDeadline(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	r, err := svc.Claim(context.Background(), claimCmd)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisional, r.Status)
	assert.Equal(t, t0.Add(60*time.Minute), r.HoldDeadline)
	assert.NotEmpty(t, r.ID)

	cmd := claimCmd
	cmd.ProviderID = "P2"
	cmd.HoldMinutes = 5
	r, err = svc.Claim(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), r.HoldDeadline)
}

func TestConcurrentClaimsSameSlot(t *testing.T) {
	for _, n := range []int{1, 2, 8, 32} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			store := NewMemoryStore()
			svc, _ := newTestService(t, store)
			ctx := context.Background()

			var wg sync.WaitGroup
			start := make(chan struct{})
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					cmd := claimCmd
					cmd.ConversationID = fmt.Sprintf("c%d", i)
					_, err := svc.Claim(ctx, cmd)
					errs <- err
				}(i)
			}
			close(start)
			wg.Wait()
			close(errs)

			success, conflicts := 0, 0
			for err := range errs {
				switch {
				case err == nil:
					success++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, success)
			assert.Equal(t, n-1, conflicts)
		})
	}
}

func TestScenarioTwoClaimsFiftyMillisApart(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i, delay := range []time.Duration{0, 50 * time.Millisecond} {
		wg.Add(1)
		go func(i int, delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			cmd := claimCmd
			cmd.ConversationID = fmt.Sprintf("c%d", i)
			_, err := svc.Claim(ctx, cmd)
			errs <- err
		}(i, delay)
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrConflict)

	held, err := svc.ActiveHolds(ctx, "P1", slotP1.Add(-time.Hour), slotP1.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, StatusProvisional, held[0].Status)
}

func TestOverlapAndAdjacency(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	_, err := svc.Claim(ctx, claimCmd)
	require.NoError(t, err)

	overlapping := claimCmd
	overlapping.SlotStart = slotP1.Add(15 * time.Minute)
	_, err = svc.Claim(ctx, overlapping)
	assert.ErrorIs(t, err, ErrConflict)

	adjacent := claimCmd
	adjacent.SlotStart = slotP1.Add(30 * time.Minute)
	_, err = svc.Claim(ctx, adjacent)
	assert.NoError(t, err, "back-to-back slots do not overlap")

	other := claimCmd
	other.ProviderID = "P2"
	_, err = svc.Claim(ctx, other)
	assert.NoError(t, err)
}

func TestReleasedSlotCanBeClaimedAgain(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	r, err := svc.Claim(ctx, claimCmd)
	require.NoError(t, err)
	_, err = svc.Release(ctx, r.ID)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, claimCmd)
	assert.NoError(t, err)
}

func TestResolutionIsExactlyOnce(t *testing.T) {
	type op func(*Service, types.ID) (*Reservation, error)
	confirm := func(s *Service, id types.ID) (*Reservation, error) { return s.Confirm(context.Background(), id) }
	release := func(s *Service, id types.ID) (*Reservation, error) { return s.Release(context.Background(), id) }
	cancel := func(s *Service, id types.ID) (*Reservation, error) { return s.Cancel(context.Background(), id, false) }
	refund := func(s *Service, id types.ID) (*Reservation, error) { return s.Cancel(context.Background(), id, true) }

	cases := []struct {
		name        string
		first       op
		second      op
		secondErr   error
		finalStatus Status
	}{
		{"confirm twice", confirm, confirm, nil, StatusConfirmed},
		{"release twice", release, release, nil, StatusExpired},
		{"release after confirm", confirm, release, nil, StatusConfirmed},
		{"confirm after release", release, confirm, ErrNotProvisional, StatusExpired},
		{"cancel twice", cancel, cancel, nil, StatusCancelledNoRefund},
		{"refund after cancel", cancel, refund, nil, StatusCancelledNoRefund},
		{"cancel after confirm", confirm, cancel, ErrNotProvisional, StatusConfirmed},
		{"release after refund", refund, release, nil, StatusCancelledRefunded},
		{"confirm after cancel", cancel, confirm, ErrNotProvisional, StatusCancelledNoRefund},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t, NewMemoryStore())
			r, err := svc.Claim(context.Background(), claimCmd)
			require.NoError(t, err)

			_, err = tc.first(svc, r.ID)
			require.NoError(t, err)
			got, err := tc.second(svc, r.ID)
			if tc.secondErr != nil {
				assert.ErrorIs(t, err, tc.secondErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.finalStatus, got.Status)
			}
			final, err := svc.Get(context.Background(), r.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.finalStatus, final.Status)
		})
	}
}

func TestConfirmAfterDeadline(t *testing.T) {
	svc, clk := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	r, err := svc.Claim(ctx, claimCmd)
	require.NoError(t, err)

	clk.Set(r.HoldDeadline)
	_, err = svc.Confirm(ctx, r.ID)
	assert.ErrorIs(t, err, ErrHoldExpired)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisional, got.Status, "left for the sweeper")
}

func TestResolveUnknownReservation(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	_, err := svc.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Release(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentConfirmAndRelease(t *testing.T) {
	for i := 0; i < 20; i++ {
		svc, _ := newTestService(t, NewMemoryStore())
		ctx := context.Background()
		r, err := svc.Claim(ctx, claimCmd)
		require.NoError(t, err)

		var wg sync.WaitGroup
		start := make(chan struct{})
		var confirmErr, releaseErr error
		wg.Add(2)
		go func() { defer wg.Done(); <-start; _, confirmErr = svc.Confirm(ctx, r.ID) }()
		go func() { defer wg.Done(); <-start; _, releaseErr = svc.Release(ctx, r.ID) }()
		close(start)
		wg.Wait()

		final, err := svc.Get(ctx, r.ID)
		require.NoError(t, err)
		require.NoError(t, releaseErr, "release never fails on a resolved hold")
		switch final.Status {
		case StatusConfirmed:
			assert.NoError(t, confirmErr)
		case StatusExpired:
			assert.ErrorIs(t, confirmErr, ErrNotProvisional)
		default:
			t.Fatalf("unexpected final status %s", final.Status)
		}
	}
}

func TestHoldPolicy(t *testing.T) {
	local := time.FixedZone("UTC-3", -3*3600)
	p := HoldPolicy{SameDay: 15 * time.Minute, Advance: time.Hour, Location: local}

	now := time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC) // 22:00 on the 9th locally
	assert.Equal(t, time.Hour, p.For(now, time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)), "next local day")
	assert.Equal(t, 15*time.Minute, p.For(now, time.Date(2025, 1, 10, 2, 0, 0, 0, time.UTC)), "same local day")

	slot := now.Add(10 * time.Minute)
	assert.Equal(t, slot, p.Deadline(now, slot, 0), "hold never outlives the slot start")
	assert.Equal(t, now.Add(5*time.Minute), p.Deadline(now, slot, 5*time.Minute))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusProvisional, StatusConfirmed))
	assert.True(t, CanTransition(StatusProvisional, StatusCancelledRefunded))
	for _, terminal := range []Status{StatusConfirmed, StatusExpired, StatusCancelledNoRefund, StatusCancelledRefunded} {
		assert.True(t, terminal.Terminal())
		assert.False(t, CanTransition(terminal, StatusProvisional))
		assert.False(t, CanTransition(terminal, StatusConfirmed))
	}
}
