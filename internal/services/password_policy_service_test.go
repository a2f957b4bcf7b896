package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	"github.com/BradenHooton/bastion/pkg/breach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "vT9#qLm2$wRx8!pZ"

func defaultPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{MinLength: 8, MaxLength: 100, MinScore: 2, HistoryDepth: 10}
}

// breachedFetcher reports password as seen count times
func breachedFetcher(password string, count int64) *MockBreachRangeFetcher {
	prefix, suffix := breach.HashParts(password)
	return &MockBreachRangeFetcher{
		RangeFunc: func(ctx context.Context, p string) (map[string]int64, error) {
			if p != prefix {
				return map[string]int64{}, nil
			}
			return map[string]int64{suffix: count, strings.Repeat("0", 35): 0}, nil
		},
	}
}

func TestPasswordPolicyService_Validate_StrongPassword(t *testing.T) {
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, nil, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), strongPassword, models.PasswordContext{Email: "a@example.com"})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.GreaterOrEqual(t, result.Score, 3)
	assert.NotEmpty(t, result.CrackTimeEstimate)
	assert.False(t, result.BreachCheckSkipped)
}

func TestPasswordPolicyService_Validate_Length(t *testing.T) {
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, nil, defaultPolicyConfig(), slog.Default())
	ctx := context.Background()

	result, err := svc.Validate(ctx, "aB3$", models.PasswordContext{})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "Password must be at least 8 characters")

	result, err = svc.Validate(ctx, strings.Repeat("x", 101), models.PasswordContext{})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, []string{"Password must be at most 100 characters"}, result.Errors)
	assert.Zero(t, result.Score)
	assert.Empty(t, result.CrackTimeEstimate)
}

func TestPasswordPolicyService_Validate_OverLengthStillChecksBreachAndReuse(t *testing.T) {
	long := strings.Repeat("correct horse battery staple ", 4)
	oldHash, err := pkgauth.HashPasswordWithCost(long, bcrypt.MinCost)
	require.NoError(t, err)

	history := &MockPasswordHistoryRepository{
		RecentFunc: func(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
			return []*models.PasswordHistoryEntry{{CustomerID: customerID, PasswordHash: oldHash}}, nil
		},
	}
	checker := NewBreachChecker(nil, breachedFetcher(long, 7), time.Hour, time.Second, slog.Default())
	svc := NewPasswordPolicyService(history, checker, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), long, models.PasswordContext{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Zero(t, result.Score)
	assert.True(t, result.IsBreached)
	assert.Equal(t, int64(7), result.BreachCount)
	assert.True(t, result.IsReused)
	assert.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors, "Password must be at most 100 characters")
}

func TestPasswordPolicyService_Validate_LengthCountsCharacters(t *testing.T) {
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, nil, defaultPolicyConfig(), slog.Default())

	// Seven characters, fourteen bytes
	result, err := svc.Validate(context.Background(), "ñññññññ", models.PasswordContext{})
	require.NoError(t, err)
	assert.Contains(t, result.Errors, "Password must be at least 8 characters")
}

func TestPasswordPolicyService_Validate_WeakPassword(t *testing.T) {
	checker := NewBreachChecker(nil, breachedFetcher("password", 9_545_824), time.Hour, time.Second, slog.Default())
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, checker, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), "password", models.PasswordContext{})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, 0, result.Score)
	assert.Contains(t, result.Errors, "Password is too weak")
	assert.True(t, result.IsBreached)
	assert.Equal(t, int64(9_545_824), result.BreachCount)
	assert.Contains(t, result.Errors, "This password has appeared in a data breach")
	assert.NotEmpty(t, result.Warning)
	assert.NotEmpty(t, result.Suggestions)
}

func TestPasswordPolicyService_Validate_PersonalInfoLowersScore(t *testing.T) {
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, nil, defaultPolicyConfig(), slog.Default())
	ctx := context.Background()
	candidate := "fitzgeraldwinterbourne"

	without, err := svc.Validate(ctx, candidate, models.PasswordContext{})
	require.NoError(t, err)
	with, err := svc.Validate(ctx, candidate, models.PasswordContext{
		Email:     "fitz@example.com",
		FirstName: "Fitzgerald",
		LastName:  "Winterbourne",
	})
	require.NoError(t, err)

	assert.Less(t, with.Score, without.Score)
}

func TestPasswordPolicyService_Validate_Breached(t *testing.T) {
	checker := NewBreachChecker(nil, breachedFetcher(strongPassword, 42), time.Hour, time.Second, slog.Default())
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, checker, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), strongPassword, models.PasswordContext{})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.True(t, result.IsBreached)
	assert.Equal(t, int64(42), result.BreachCount)
	assert.Contains(t, result.Errors, "This password has appeared in a data breach")
}

func TestPasswordPolicyService_Validate_BreachServiceDownFailsOpen(t *testing.T) {
	fetcher := &MockBreachRangeFetcher{
		RangeFunc: func(ctx context.Context, prefix string) (map[string]int64, error) {
			return nil, errors.New("dial tcp: i/o timeout")
		},
	}
	checker := NewBreachChecker(nil, fetcher, time.Hour, time.Second, slog.Default())
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, checker, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), strongPassword, models.PasswordContext{})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.True(t, result.BreachCheckSkipped)
	assert.False(t, result.IsBreached)
}

func TestPasswordPolicyService_Validate_Reuse(t *testing.T) {
	oldHash, err := pkgauth.HashPasswordWithCost(strongPassword, bcrypt.MinCost)
	require.NoError(t, err)

	history := &MockPasswordHistoryRepository{
		RecentFunc: func(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
			assert.Equal(t, 10, limit)
			if customerID != "cust-1" {
				return nil, nil
			}
			return []*models.PasswordHistoryEntry{{CustomerID: "cust-1", PasswordHash: oldHash}}, nil
		},
	}
	svc := NewPasswordPolicyService(history, nil, defaultPolicyConfig(), slog.Default())
	ctx := context.Background()

	result, err := svc.Validate(ctx, strongPassword, models.PasswordContext{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.True(t, result.IsReused)

	// New accounts have no history to match
	result, err = svc.Validate(ctx, strongPassword, models.PasswordContext{})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestPasswordPolicyService_Validate_HistoryError(t *testing.T) {
	history := &MockPasswordHistoryRepository{
		RecentFunc: func(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewPasswordPolicyService(history, nil, defaultPolicyConfig(), slog.Default())

	_, err := svc.Validate(context.Background(), strongPassword, models.PasswordContext{CustomerID: "cust-1"})
	assert.Error(t, err)
}

func TestPasswordPolicyService_Validate_CollectsEveryFailure(t *testing.T) {
	checker := NewBreachChecker(nil, breachedFetcher("abc", 9000), time.Hour, time.Second, slog.Default())
	svc := NewPasswordPolicyService(&MockPasswordHistoryRepository{}, checker, defaultPolicyConfig(), slog.Default())

	result, err := svc.Validate(context.Background(), "abc", models.PasswordContext{})
	require.NoError(t, err)
	assert.Len(t, result.Errors, 3)
}

func TestPasswordPolicyService_RecordPasswordChange(t *testing.T) {
	history := &InMemoryPasswordHistoryRepository{}
	svc := NewPasswordPolicyService(history, nil, PasswordPolicyConfig{MinLength: 8, MaxLength: 100, HistoryDepth: 2}, slog.Default())
	ctx := context.Background()

	for _, h := range []string{"h1", "h2", "h3"} {
		require.NoError(t, svc.RecordPasswordChange(ctx, "cust-1", h, "203.0.113.7", models.PasswordChangeUser))
	}
	require.NoError(t, svc.RecordPasswordChange(ctx, "cust-2", "other", "", models.PasswordChangeReset))

	n, err := svc.PruneHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recent, err := history.Recent(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "h3", recent[0].PasswordHash)
	assert.Equal(t, "h2", recent[1].PasswordHash)
}
