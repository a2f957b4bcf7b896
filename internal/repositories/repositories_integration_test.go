//go:build integration

package repositories_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/tests/integration"
)

var testDB *integration.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = integration.SetupTestDatabase(ctx)
	if err != nil {
		panic(err)
	}

	code := m.Run()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
}

func newCode(email string, purpose models.CodePurpose, digits string) *models.VerificationCode {
	return &models.VerificationCode{
		Email:       email,
		Code:        digits,
		Purpose:     purpose,
		MaxAttempts: 3,
		ExpiresAt:   time.Now().Add(15 * time.Minute),
	}
}

func TestVerificationCodes_ReplaceActiveKeepsSingleCode(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewVerificationCodeRepository(testDB.DB)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReplaceActive(ctx, newCode("a@example.com", models.PurposeEmailVerification, "123456"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var unused int
	err := testDB.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM verification_codes WHERE email = $1 AND is_used = FALSE
	`, "a@example.com").Scan(&unused)
	require.NoError(t, err)
	assert.Equal(t, 1, unused)
}

func TestVerificationCodes_AttemptsAreAtomic(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewVerificationCodeRepository(testDB.DB)

	code, err := repo.ReplaceActive(ctx, newCode("b@example.com", models.PurposeEmailVerification, "111111"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.RecordAttempt(ctx, code.ID, "999999", true); err == nil {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, recorded)

	// exhausted codes refuse even the right digits
	_, err = repo.RecordAttempt(ctx, code.ID, "111111", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVerificationCodes_MatchConsumes(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewVerificationCodeRepository(testDB.DB)

	code, err := repo.ReplaceActive(ctx, newCode("c@example.com", models.PurposeAccountUnlock, "222222"))
	require.NoError(t, err)

	res, err := repo.RecordAttempt(ctx, code.ID, "222222", true)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 0, res.Attempts)

	_, err = repo.FindActive(ctx, "c@example.com", models.PurposeAccountUnlock)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVerificationCodes_ResetCodeSurvivesValidation(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewVerificationCodeRepository(testDB.DB)

	code, err := repo.ReplaceActive(ctx, newCode("d@example.com", models.PurposePasswordReset, "333333"))
	require.NoError(t, err)

	res, err := repo.RecordAttempt(ctx, code.ID, "333333", false)
	require.NoError(t, err)
	assert.True(t, res.Matched)

	require.NoError(t, repo.ConsumeMatching(ctx, "d@example.com", models.PurposePasswordReset, "333333"))
	assert.ErrorIs(t, repo.ConsumeMatching(ctx, "d@example.com", models.PurposePasswordReset, "333333"), models.ErrNotFound)
}

func TestSessions_RevocationCounts(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	customer, err := integration.SeedCustomer(ctx, testDB.Pool, "e@example.com", "a-long-password", true)
	require.NoError(t, err)

	repo := repositories.NewSessionRepository(testDB.DB)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		s, err := repo.Create(ctx, &models.Session{
			CustomerID: customer.ID,
			DeviceName: "Chrome on macOS",
			DeviceType: models.DeviceDesktop,
		})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	n, err := repo.RevokeForCustomer(ctx, customer.ID, ids[0], models.RevokeReasonOtherSessions)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.Revoke(ctx, ids[1], models.RevokeReasonUserRevoked)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already revoked session is a no-op")

	active, err := repo.ListActive(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids[0], active[0].ID)
}

func TestSessions_TokenHashBindsOnce(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	customer, err := integration.SeedCustomer(ctx, testDB.Pool, "f@example.com", "a-long-password", true)
	require.NoError(t, err)

	repo := repositories.NewSessionRepository(testDB.DB)
	s, err := repo.Create(ctx, &models.Session{CustomerID: customer.ID, DeviceType: models.DeviceUnknown, DeviceName: "Unknown Device"})
	require.NoError(t, err)

	require.NoError(t, repo.SetTokenHash(ctx, s.ID, "hash-1"))
	assert.ErrorIs(t, repo.SetTokenHash(ctx, s.ID, "hash-2"), models.ErrConflict)
	assert.ErrorIs(t, repo.SetTokenHash(ctx, "00000000-0000-0000-0000-000000000000", "hash"), models.ErrNotFound)
}

func TestLoginAttempts_ConcurrentStreak(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewLoginAttemptRepository(testDB.DB)
	key := models.TrackingKey{Kind: models.TrackByEmail, Value: "g@example.com"}

	streak := func(prev *models.LoginAttempt) (int, bool) {
		n := 1
		if prev != nil && !prev.Success {
			n = prev.ConsecutiveFailures + 1
		}
		return n, n%5 == 0
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Record(ctx, &models.LoginAttempt{
				Email:     "g@example.com",
				IPAddress: "203.0.113.5",
				Kind:      models.AttemptLogin,
			}, key, streak)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	latest, err := repo.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, latest.ConsecutiveFailures)

	lockout, err := repo.LatestLockout(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, lockout)
	assert.Equal(t, 10, lockout.ConsecutiveFailures)
}

func TestLoginAttempts_CountFailuresSinceSuccess(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewLoginAttemptRepository(testDB.DB)
	ipKey := models.TrackingKey{Kind: models.TrackByIP, Value: "203.0.113.9"}
	locked := models.FailureAccountLocked

	record := func(email string, success bool, reason *string) {
		t.Helper()
		_, err := repo.Record(ctx, &models.LoginAttempt{
			Email:         email,
			Success:       success,
			FailureReason: reason,
			IPAddress:     "203.0.113.9",
			Kind:          models.AttemptLogin,
		}, ipKey, func(prev *models.LoginAttempt) (int, bool) { return 0, false })
		require.NoError(t, err)
	}

	record("i@example.com", false, nil)
	record("i@example.com", true, nil)
	record("i@example.com", false, nil)
	record("j@example.com", false, nil)
	record("i@example.com", false, nil)
	record("i@example.com", false, &locked)

	n, err := repo.CountFailuresSinceSuccess(ctx, models.TrackingKey{Kind: models.TrackByEmail, Value: "i@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountFailuresSinceSuccess(ctx, models.TrackingKey{Kind: models.TrackByEmail, Value: "k@example.com"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.CountFailuresSinceSuccess(ctx, ipKey)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCustomers_RegisteredWinsOverGuest(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	_, err := integration.SeedGuest(ctx, testDB.Pool, "h@example.com")
	require.NoError(t, err)
	registered, err := integration.SeedCustomer(ctx, testDB.Pool, "H@example.com", "a-long-password", false)
	require.NoError(t, err)

	repo := repositories.NewCustomerRepository(testDB.DB)
	got, err := repo.GetByEmail(ctx, "h@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, got.ID)
	assert.True(t, got.CanSignIn())

	require.NoError(t, repo.MarkEmailVerified(ctx, got.ID))
	got, err = repo.GetByID(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestBreachChecks_PutGet(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := repositories.NewBreachCheckRepository(testDB.DB)

	rng := &models.BreachRange{
		Prefix:       "21BD1",
		SuffixCounts: map[string]int64{"2C9A0A2B4A5F5F0A7C2B4A1F1E8E6F0B9F3": 42},
		CheckedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Put(ctx, rng))

	got, err := repo.Get(ctx, "21BD1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TotalCount())

	_, err = repo.Get(ctx, "FFFFF")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
