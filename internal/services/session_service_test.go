package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const chromeOnMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestSessionService(repo SessionRepository) *SessionService {
	return NewSessionService(repo, SessionConfig{
		TokenHashCost:    bcrypt.MinCost,
		RevokedRetention: 30 * 24 * time.Hour,
		IdleTimeout:      7 * 24 * time.Hour,
		MaxAge:           90 * 24 * time.Hour,
	}, slog.Default())
}

func TestSessionService_CreateSession_ParsesDevice(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)

	id, err := svc.CreateSession(context.Background(), models.NewSessionInput{
		CustomerID: "cust-1",
		UserAgent:  chromeOnMac,
		IPAddress:  "203.0.113.7",
		Geo:        &models.GeoHint{City: "Lisbon", Country: "PT"},
	})
	require.NoError(t, err)

	s := repo.Sessions[id]
	require.NotNil(t, s)
	assert.Equal(t, models.DeviceDesktop, s.DeviceType)
	require.NotNil(t, s.DeviceBrowser)
	assert.Equal(t, "Chrome", *s.DeviceBrowser)
	require.NotNil(t, s.IPCountry)
	assert.Equal(t, "PT", *s.IPCountry)
	assert.Nil(t, s.TokenHash)
	assert.True(t, s.IsActive)
}

func TestSessionService_CreateSession_EmptyUserAgent(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)

	id, err := svc.CreateSession(context.Background(), models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)

	s := repo.Sessions[id]
	assert.Equal(t, models.DeviceUnknown, s.DeviceType)
	assert.Nil(t, s.IPAddress)
}

func TestSessionService_SetTokenHash_BindsOnce(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	id, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1", UserAgent: chromeOnMac})
	require.NoError(t, err)

	require.NoError(t, svc.SetTokenHash(ctx, id, "token-one"))
	assert.ErrorIs(t, svc.SetTokenHash(ctx, id, "token-two"), models.ErrTokenHashAlreadySet)

	session, err := svc.ValidateSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, svc.TokenMatches(session, "token-one"))
	assert.False(t, svc.TokenMatches(session, "token-two"))
	assert.NotEqual(t, "token-one", *session.TokenHash)
}

func TestSessionService_SetTokenHash_LongToken(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	// JWTs are longer than bcrypt's 72 byte input limit
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	other := append([]byte{}, long...)
	other[299] = 'b'

	id, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	require.NoError(t, svc.SetTokenHash(ctx, id, string(long)))

	session, err := svc.ValidateSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, svc.TokenMatches(session, string(long)))
	assert.False(t, svc.TokenMatches(session, string(other)))
}

func TestSessionService_SetTokenHash_UnknownSession(t *testing.T) {
	svc := newTestSessionService(NewInMemorySessionRepository())

	err := svc.SetTokenHash(context.Background(), "missing", "token")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionService_TokenMatches_Unbound(t *testing.T) {
	svc := newTestSessionService(NewInMemorySessionRepository())

	assert.False(t, svc.TokenMatches(nil, "token"))
	assert.False(t, svc.TokenMatches(&models.Session{}, "token"))
}

func TestSessionService_RevokeSession_Idempotent(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	id, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, id, models.RevokeReasonLogout))
	require.NoError(t, svc.RevokeSession(ctx, id, models.RevokeReasonLogout))
	require.NoError(t, svc.RevokeSession(ctx, "missing", models.RevokeReasonLogout))

	_, err = svc.ValidateSession(ctx, id)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Equal(t, models.RevokeReasonLogout, *repo.Sessions[id].RevokeReason)
}

func TestSessionService_RevokeOtherSessions_KeepsCurrent(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	current, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
		require.NoError(t, err)
	}
	_, err = svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-2"})
	require.NoError(t, err)

	n, err := svc.RevokeOtherSessions(ctx, "cust-1", current)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sessions, err := svc.ListSessions(ctx, "cust-1", current)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, current, sessions[0].ID)
	assert.True(t, sessions[0].IsCurrent)
	assert.Equal(t, 1, repo.ActiveCount("cust-2"))
}

func TestSessionService_RevokeAllSessions(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
		require.NoError(t, err)
	}

	n, err := svc.RevokeAllSessions(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 0, repo.ActiveCount("cust-1"))

	n, err = svc.RevokeAllSessions(ctx, "cust-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionService_ListSessions_MostRecentFirst(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	older, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	newer, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	repo.Sessions[older].LastActivityAt = time.Now().Add(-time.Hour)

	sessions, err := svc.ListSessions(ctx, "cust-1", older)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer, sessions[0].ID)
	assert.False(t, sessions[0].IsCurrent)
	assert.True(t, sessions[1].IsCurrent)
}

func TestSessionService_TouchActivity_Background(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)

	id, err := svc.CreateSession(context.Background(), models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	repo.Sessions[id].LastActivityAt = time.Now().Add(-time.Hour)

	svc.TouchActivity(id)
	svc.WaitForTouches()

	assert.Equal(t, 1, repo.Touches)
	assert.WithinDuration(t, time.Now(), repo.Sessions[id].LastActivityAt, 5*time.Second)
}

func TestSessionService_ValidateSession_StorageError(t *testing.T) {
	svc := newTestSessionService(&failingSessionRepo{InMemorySessionRepository: NewInMemorySessionRepository()})

	_, err := svc.ValidateSession(context.Background(), "any")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrSessionNotFound))
}

func TestSessionService_Cleanup(t *testing.T) {
	repo := NewInMemorySessionRepository()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	fresh, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	idle, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	revoked, err := svc.CreateSession(ctx, models.NewSessionInput{CustomerID: "cust-1"})
	require.NoError(t, err)

	repo.Sessions[idle].LastActivityAt = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, svc.RevokeSession(ctx, revoked, models.RevokeReasonLogout))
	longAgo := time.Now().Add(-31 * 24 * time.Hour)
	repo.Sessions[revoked].RevokedAt = &longAgo

	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, repo.Sessions, fresh)
}

type failingSessionRepo struct {
	*InMemorySessionRepository
}

func (r *failingSessionRepo) GetActive(ctx context.Context, id string) (*models.Session, error) {
	return nil, errors.New("connection reset")
}
