package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock shared by the service and the fake repository
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLoginAttemptService(config LoginAttemptConfig) (*LoginAttemptService, *InMemoryLoginAttemptRepository, *testClock) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewInMemoryLoginAttemptRepository()
	repo.Clock = clock.Now

	svc := NewLoginAttemptService(repo, config, slog.Default())
	svc.now = clock.Now
	return svc, repo, clock
}

func defaultLockoutConfig() LoginAttemptConfig {
	return LoginAttemptConfig{
		Threshold:   5,
		Duration:    15 * time.Minute,
		TrackBy:     models.TrackByEmail,
		Multiplier:  1.5,
		MaxDuration: time.Hour,
		Retention:   90 * 24 * time.Hour,
	}
}

func fail(t *testing.T, svc *LoginAttemptService, email, ip string, n int) *models.LoginAttempt {
	t.Helper()
	var last *models.LoginAttempt
	for i := 0; i < n; i++ {
		var err error
		last, err = svc.RecordAttempt(context.Background(), models.LoginAttemptInput{
			Email:         email,
			FailureReason: models.FailureInvalidCredentials,
			IPAddress:     ip,
			UserAgent:     chromeOnMac,
		})
		require.NoError(t, err)
	}
	return last
}

func TestLoginAttemptService_FifthFailureLocks(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	last := fail(t, svc, "a@example.com", "203.0.113.7", 4)
	assert.Equal(t, 4, last.ConsecutiveFailures)
	assert.False(t, last.TriggeredLockout)

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 4, status.ConsecutiveFailures)

	last = fail(t, svc, "a@example.com", "203.0.113.7", 1)
	assert.Equal(t, 5, last.ConsecutiveFailures)
	assert.True(t, last.TriggeredLockout)
	assert.Equal(t, "desktop: Chrome on macOS", last.DeviceSummary)

	status, err = svc.LockoutStatus(ctx, "A@Example.com")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 15*time.Minute, status.RemainingTime)
	require.NotNil(t, status.LockoutEndTime)
}

func TestLoginAttemptService_SuccessResetsStreak(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@example.com", "", 4)
	_, err := svc.RecordAttempt(ctx, models.LoginAttemptInput{Email: "a@example.com", Success: true, FailureReason: "ignored"})
	require.NoError(t, err)

	last := fail(t, svc, "a@example.com", "", 4)
	assert.Equal(t, 4, last.ConsecutiveFailures)
	assert.False(t, last.TriggeredLockout)

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
}

func TestLoginAttemptService_LockoutExpires(t *testing.T) {
	svc, _, clock := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@example.com", "", 5)
	clock.Advance(15*time.Minute + time.Second)

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 5, status.ConsecutiveFailures)
}

func TestLoginAttemptService_ProgressiveDuration(t *testing.T) {
	svc, _, clock := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@example.com", "", 5)
	clock.Advance(16 * time.Minute)

	last := fail(t, svc, "a@example.com", "", 5)
	assert.Equal(t, 10, last.ConsecutiveFailures)
	assert.True(t, last.TriggeredLockout)

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 22*time.Minute+30*time.Second, status.RemainingTime)
}

func TestLoginAttemptService_LockoutDuration_Capped(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{5, 15 * time.Minute},
		{10, 22*time.Minute + 30*time.Second},
		{15, 33*time.Minute + 45*time.Second},
		{20, 50*time.Minute + 37*time.Second + 500*time.Millisecond},
		{25, time.Hour},
		{500, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.lockoutDuration(tt.failures), "failures=%d", tt.failures)
	}
}

func TestLoginAttemptService_TrackByIP(t *testing.T) {
	config := defaultLockoutConfig()
	config.TrackBy = models.TrackByIP
	svc, _, _ := newTestLoginAttemptService(config)
	ctx := context.Background()

	// Spraying different emails from one address still trips the lockout
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		fail(t, svc, email, "198.51.100.9", 1)
	}

	status, err := svc.Check(ctx, "someone-else@x.com", "198.51.100.9")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)

	status, err = svc.LockoutStatusByIP(ctx, "198.51.100.10")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
}

func TestLoginAttemptService_TrackByIP_EmailStatusUsesOwnFailures(t *testing.T) {
	config := defaultLockoutConfig()
	config.TrackBy = models.TrackByIP
	svc, _, _ := newTestLoginAttemptService(config)
	ctx := context.Background()

	fail(t, svc, "a@x.com", "198.51.100.9", 2)
	for _, email := range []string{"b@x.com", "c@x.com", "d@x.com"} {
		fail(t, svc, email, "198.51.100.9", 1)
	}

	// The address is locked after five failures
	status, err := svc.LockoutStatusByIP(ctx, "198.51.100.9")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, 5, status.ConsecutiveFailures)

	// The email only reports its own failures and is never locked
	status, err = svc.LockoutStatus(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Nil(t, status.LockoutEndTime)
	assert.Equal(t, 2, status.ConsecutiveFailures)

	status, err = svc.LockoutStatus(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Zero(t, status.ConsecutiveFailures)
}

func TestLoginAttemptService_TrackByEmail_IPStatusUsesOwnFailures(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@x.com", "198.51.100.9", 4)
	_, err := svc.RecordAttempt(ctx, models.LoginAttemptInput{Email: "a@x.com", Success: true, IPAddress: "198.51.100.9"})
	require.NoError(t, err)
	fail(t, svc, "b@x.com", "198.51.100.9", 1)
	fail(t, svc, "c@x.com", "198.51.100.10", 3)

	status, err := svc.LockoutStatusByIP(ctx, "198.51.100.9")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Equal(t, 1, status.ConsecutiveFailures)
}

func TestLoginAttemptService_LockedAttemptsAreRecorded(t *testing.T) {
	svc, repo, clock := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	trigger := fail(t, svc, "a@example.com", "203.0.113.7", 5)
	require.True(t, trigger.TriggeredLockout)

	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		a, err := svc.RecordAttempt(ctx, models.LoginAttemptInput{
			Email:     "a@example.com",
			IPAddress: "203.0.113.7",
			UserAgent: chromeOnMac,
			Locked:    true,
		})
		require.NoError(t, err)
		assert.False(t, a.Success)
		require.NotNil(t, a.FailureReason)
		assert.Equal(t, models.FailureAccountLocked, *a.FailureReason)
		assert.Equal(t, 5, a.ConsecutiveFailures)
		assert.False(t, a.TriggeredLockout)
	}
	assert.Len(t, repo.Attempts, 8)

	// Refused attempts neither extend nor restart the lockout
	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, trigger.AttemptedAt.Add(15*time.Minute), *status.LockoutEndTime)

	clock.Advance(15 * time.Minute)
	status, err = svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)

	last := fail(t, svc, "a@example.com", "203.0.113.7", 1)
	assert.Equal(t, 6, last.ConsecutiveFailures)
}

func TestLoginAttemptService_LockedAttemptWithoutHistory(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())

	a, err := svc.RecordAttempt(context.Background(), models.LoginAttemptInput{
		Email:   "a@example.com",
		Success: true,
		Locked:  true,
	})
	require.NoError(t, err)
	assert.False(t, a.Success)
	assert.Zero(t, a.ConsecutiveFailures)
	assert.False(t, a.TriggeredLockout)
}

func TestLoginAttemptService_ClearLockout(t *testing.T) {
	svc, repo, _ := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@example.com", "", 5)
	require.NoError(t, svc.ClearLockout(ctx, "a@example.com", ""))

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	assert.Zero(t, status.ConsecutiveFailures)

	unlock := repo.Attempts[len(repo.Attempts)-1]
	assert.Equal(t, models.AttemptUnlock, unlock.Kind)

	// The next streak starts from zero
	last := fail(t, svc, "a@example.com", "", 1)
	assert.Equal(t, 1, last.ConsecutiveFailures)
}

func TestLoginAttemptService_ConcurrentFailures(t *testing.T) {
	svc, _, _ := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	triggers := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := svc.RecordAttempt(ctx, models.LoginAttemptInput{Email: "a@example.com"})
			if err == nil && a.TriggeredLockout {
				mu.Lock()
				triggers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	status, err := svc.LockoutStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, status.ConsecutiveFailures)
	assert.Equal(t, 2, triggers)
}

func TestLoginAttemptService_Cleanup(t *testing.T) {
	svc, repo, clock := newTestLoginAttemptService(defaultLockoutConfig())
	ctx := context.Background()

	fail(t, svc, "a@example.com", "", 2)
	clock.Advance(91 * 24 * time.Hour)
	fail(t, svc, "a@example.com", "", 1)

	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, repo.Attempts, 1)
}
