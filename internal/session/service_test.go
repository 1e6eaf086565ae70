package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *clock) {
	t.Helper()
	repo := NewMemoryRepository()
	clk := newClock()
	return NewService(repo, WithTTL(time.Hour), WithClock(clk.Now)), repo, clk
}

func login(t *testing.T, svc *Service, device string) Issued {
	t.Helper()
	iss, err := svc.Issue(context.Background(), IssueRequest{UserID: "user-1", TenantID: "tenant-a", DeviceID: device})
	require.NoError(t, err)
	return iss
}

func TestIssueStoresOnlyHash(t *testing.T) {
	svc, repo, _ := newTestService(t)
	iss := login(t, svc, "D")

	stored, err := repo.ByID(context.Background(), iss.Session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, iss.Secret, stored.TokenHash)
	assert.Equal(t, HashSecret(iss.Secret), stored.TokenHash)
	assert.Equal(t, stored.ID, stored.ChainID)
	assert.Zero(t, stored.Generation)
	assert.Len(t, stored.TokenHash, 64)
}

func TestIssueValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Issue(context.Background(), IssueRequest{UserID: "u", TenantID: "t"})
	assert.Error(t, err)
}

func TestTheftScenario(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	s0 := login(t, svc, "D")
	s1, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.NoError(t, err)

	// Attacker replays S0.
	_, err = svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.ErrorIs(t, err, ErrRefreshReused)

	for _, id := range []string{s0.Session.ID, s1.Session.ID} {
		got, err := repo.ByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt, id)
		assert.Equal(t, ReasonReuseDetected, got.RevokeReason)
	}

	_, err = svc.Rotate(ctx, RotateRequest{Secret: s1.Secret, DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshReused)
	_, err = svc.ValidateForAccess(ctx, s1.Secret)
	assert.ErrorIs(t, err, ErrRefreshReused)
}

func TestReuseRevokesEveryDescendant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	secrets := []string{login(t, svc, "D").Secret}
	for i := 0; i < 4; i++ {
		next, err := svc.Rotate(ctx, RotateRequest{Secret: secrets[len(secrets)-1], DeviceID: "D"})
		require.NoError(t, err)
		secrets = append(secrets, next.Secret)
	}

	leaf, err := svc.ValidateForAccess(ctx, secrets[4])
	require.NoError(t, err)

	_, err = svc.ValidateForAccess(ctx, secrets[1])
	require.ErrorIs(t, err, ErrRefreshReused)

	chain, err := svc.Chain(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 5)
	for _, s := range chain {
		assert.Equal(t, StateRevoked, s.StateAt(time.Now()), "generation %d", s.Generation)
	}
}

func TestRotateRoundTrip(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	const n = 6

	cur := login(t, svc, "D")
	root := cur.Session
	for i := 0; i < n; i++ {
		next, err := svc.Rotate(ctx, RotateRequest{Secret: cur.Secret, DeviceID: "D", TenantID: "tenant-a"})
		require.NoError(t, err)
		assert.Equal(t, root.ID, next.Session.ChainID)
		assert.Equal(t, i+1, next.Session.Generation)
		cur = next
	}

	revoked, err := svc.RevokeChain(ctx, cur.Session.ID, Revocation{Reason: ReasonLogout, RequestedBy: "user-1", Scope: ScopeFromNode})
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	chain, err := svc.Chain(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, chain, n+1)

	byID := make(map[string]Session, len(chain))
	for _, s := range chain {
		assert.False(t, s.Live(clk.Now()), "generation %d still live", s.Generation)
		byID[s.ID] = s
	}
	assert.Equal(t, StateRevoked, byID[cur.Session.ID].StateAt(clk.Now()))
	assert.Equal(t, "user-1", byID[cur.Session.ID].RequestedBy)
	assert.Equal(t, StateReplaced, byID[root.ID].StateAt(clk.Now()))

	// Leaf back to root through parent pointers, then forward again.
	steps, node := 0, byID[cur.Session.ID]
	for node.ParentID != "" {
		node = byID[node.ParentID]
		steps++
	}
	assert.Equal(t, root.ID, node.ID)
	assert.Equal(t, n, steps)
	for node.ReplacedBy != "" {
		node = byID[node.ReplacedBy]
	}
	assert.Equal(t, cur.Session.ID, node.ID)
}

func TestConcurrentRotationOnlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrRotationConflict) || errors.Is(err, ErrRefreshReused), "unexpected %v", err)
	}
}

func TestReplayedSecretNeverSucceedsTwice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")

	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
		assert.ErrorIs(t, err, ErrRefreshReused)
	}
}

// racingRepo lets a competing rotation land between the caller's lookup and
// its Replace.
type racingRepo struct {
	*MemoryRepository
	once   sync.Once
	winner func(parentID string)
}

func (r *racingRepo) Replace(ctx context.Context, parentID string, child Session, at time.Time) error {
	r.once.Do(func() { r.winner(parentID) })
	return r.MemoryRepository.Replace(ctx, parentID, child, at)
}

func winnerChild(t *testing.T, repo *MemoryRepository, parentID, device string) Session {
	t.Helper()
	parent, err := repo.ByID(context.Background(), parentID)
	require.NoError(t, err)
	_, hash, err := newSecret()
	require.NoError(t, err)
	return Session{
		ID:         "winner",
		ChainID:    parent.ChainID,
		ParentID:   parent.ID,
		Generation: parent.Generation + 1,
		UserID:     parent.UserID,
		TenantID:   parent.TenantID,
		DeviceID:   device,
		TokenHash:  hash,
		IssuedAt:   parent.IssuedAt,
		ExpiresAt:  parent.ExpiresAt,
	}
}

func TestLostRaceOnSameDeviceIsConflict(t *testing.T) {
	mem := NewMemoryRepository()
	clk := newClock()
	repo := &racingRepo{MemoryRepository: mem}
	svc := NewService(repo, WithTTL(time.Hour), WithClock(clk.Now))
	ctx := context.Background()
	s0 := login(t, svc, "D")

	repo.winner = func(parentID string) {
		require.NoError(t, mem.Replace(ctx, parentID, winnerChild(t, mem, parentID, "D"), clk.Now()))
	}

	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.ErrorIs(t, err, ErrRotationConflict)

	w, err := mem.ByID(ctx, "winner")
	require.NoError(t, err)
	assert.True(t, w.Live(clk.Now()), "legitimate contention must not revoke the winner")
}

func TestLostRaceAgainstRevokedChainIsReuse(t *testing.T) {
	mem := NewMemoryRepository()
	clk := newClock()
	repo := &racingRepo{MemoryRepository: mem}
	svc := NewService(repo, WithTTL(time.Hour), WithClock(clk.Now))
	ctx := context.Background()
	s0 := login(t, svc, "D")

	repo.winner = func(parentID string) {
		require.NoError(t, mem.Replace(ctx, parentID, winnerChild(t, mem, parentID, "D"), clk.Now()))
		_, err := mem.RevokeChain(ctx, s0.Session.ChainID, 0, Revocation{Reason: ReasonAdmin}, clk.Now())
		require.NoError(t, err)
	}

	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshReused)
}

func TestDeviceMismatchRevokesChain(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")

	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "other"})
	require.ErrorIs(t, err, ErrRefreshReused)

	got, err := repo.ByID(ctx, s0.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, got.StateAt(clk.Now()))
	assert.Equal(t, ReasonDeviceMismatch, got.RevokeReason)
}

func TestTenantMismatchRevokesChain(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")

	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D", TenantID: "tenant-b"})
	require.ErrorIs(t, err, ErrRefreshReused)
	_, err = svc.ValidateForAccess(ctx, s0.Secret)
	assert.ErrorIs(t, err, ErrRefreshReused)
}

func TestExpiredAndUnknownAreInvalid(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")

	_, err := svc.Rotate(ctx, RotateRequest{Secret: "not-a-secret", DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshInvalid)
	_, err = svc.Rotate(ctx, RotateRequest{Secret: "", DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	clk.Advance(time.Hour)
	_, err = svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshInvalid)
	_, err = svc.ValidateForAccess(ctx, s0.Secret)
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	got, err := repo.ByID(ctx, s0.Session.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RevokedAt, "expiry is not theft")
	assert.Equal(t, StateExpired, got.StateAt(clk.Now()))
}

func TestReplacedAndExpiredIsInvalidNotReuse(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")
	clk.Advance(30 * time.Minute)
	s1, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	_, err = svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	got, err := repo.ByID(ctx, s1.Session.ID)
	require.NoError(t, err)
	assert.True(t, got.Live(clk.Now()))
}

func TestCancelledRotationLeavesParentUntouched(t *testing.T) {
	svc, repo, clk := newTestService(t)
	s0 := login(t, svc, "D")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.ErrorIs(t, err, context.Canceled)

	got, err := repo.ByID(context.Background(), s0.Session.ID)
	require.NoError(t, err)
	assert.True(t, got.Live(clk.Now()))
	chain, err := repo.Chain(context.Background(), s0.Session.ChainID)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	_, err = svc.Rotate(context.Background(), RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	assert.NoError(t, err)
}

func TestRevokeChainScopes(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	s0 := login(t, svc, "D")
	s1, err := svc.Rotate(ctx, RotateRequest{Secret: s0.Secret, DeviceID: "D"})
	require.NoError(t, err)
	s2, err := svc.Rotate(ctx, RotateRequest{Secret: s1.Secret, DeviceID: "D"})
	require.NoError(t, err)

	n, err := svc.RevokeChain(ctx, s1.Session.ID, Revocation{RequestedBy: "admin-1", Scope: ScopeChain})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chain, err := svc.Chain(ctx, s2.Session.ID)
	require.NoError(t, err)
	for _, s := range chain {
		assert.Equal(t, StateRevoked, s.StateAt(clk.Now()))
		assert.Equal(t, ReasonAdmin, s.RevokeReason)
	}

	n, err = svc.RevokeChain(ctx, s1.Session.ID, Revocation{Scope: ScopeChain})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.RevokeChain(ctx, "missing", Revocation{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweeperDeletesOnlyFullyExpiredChains(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()

	old := login(t, svc, "A")
	clk.Advance(50 * time.Minute)
	fresh := login(t, svc, "B")
	_, err := svc.Rotate(ctx, RotateRequest{Secret: fresh.Secret, DeviceID: "B"})
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	sw := &Sweeper{Repo: repo, Retention: 5 * time.Minute, Now: clk.Now}
	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.ByID(ctx, old.Session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.ByID(ctx, fresh.Session.ID)
	assert.NoError(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&Sweeper{Repo: NewMemoryRepository(), Interval: time.Millisecond}).Run(ctx)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
