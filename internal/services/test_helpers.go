package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// MockCustomerRepository implements CustomerRepository for testing
type MockCustomerRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.Customer, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.Customer, error)
	UpdatePasswordHashFunc func(ctx context.Context, id, passwordHash string) error
	MarkEmailVerifiedFunc  func(ctx context.Context, id string) error
}

func (m *MockCustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockCustomerRepository) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockCustomerRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordHashFunc != nil {
		return m.UpdatePasswordHashFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockCustomerRepository) MarkEmailVerified(ctx context.Context, id string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id)
	}
	return nil
}

// MockPasswordHistoryRepository implements PasswordHistoryRepository for testing
type MockPasswordHistoryRepository struct {
	AppendFunc      func(ctx context.Context, entry *models.PasswordHistoryEntry) error
	RecentFunc      func(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error)
	PruneBeyondFunc func(ctx context.Context, keep int) (int64, error)
}

func (m *MockPasswordHistoryRepository) Append(ctx context.Context, entry *models.PasswordHistoryEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	return nil
}

func (m *MockPasswordHistoryRepository) Recent(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, customerID, limit)
	}
	return []*models.PasswordHistoryEntry{}, nil
}

func (m *MockPasswordHistoryRepository) PruneBeyond(ctx context.Context, keep int) (int64, error) {
	if m.PruneBeyondFunc != nil {
		return m.PruneBeyondFunc(ctx, keep)
	}
	return 0, nil
}

// MockBreachCache implements BreachCache for testing
type MockBreachCache struct {
	GetFunc           func(ctx context.Context, prefix string) (*models.BreachRange, error)
	PutFunc           func(ctx context.Context, rng *models.BreachRange) error
	DeleteExpiredFunc func(ctx context.Context) (int64, error)
}

func (m *MockBreachCache) Get(ctx context.Context, prefix string) (*models.BreachRange, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, prefix)
	}
	return nil, models.ErrNotFound
}

func (m *MockBreachCache) Put(ctx context.Context, rng *models.BreachRange) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, rng)
	}
	return nil
}

func (m *MockBreachCache) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockBreachRangeFetcher implements BreachRangeFetcher for testing
type MockBreachRangeFetcher struct {
	RangeFunc func(ctx context.Context, prefix string) (map[string]int64, error)
	Calls     int
}

func (m *MockBreachRangeFetcher) Range(ctx context.Context, prefix string) (map[string]int64, error) {
	m.Calls++
	if m.RangeFunc != nil {
		return m.RangeFunc(ctx, prefix)
	}
	return map[string]int64{}, nil
}

// SentNotification is one message captured by MockNotifier
type SentNotification struct {
	Email   string
	Purpose models.CodePurpose // empty for password-changed notices
	Code    string
}

// MockNotifier captures notifications for assertions
type MockNotifier struct {
	mu   sync.Mutex
	Sent []SentNotification
	Err  error
}

func (m *MockNotifier) SendCode(ctx context.Context, email string, purpose models.CodePurpose, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{Email: email, Purpose: purpose, Code: code})
	return m.Err
}

func (m *MockNotifier) SendPasswordChanged(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{Email: email})
	return m.Err
}

// Messages returns a copy of the captured notifications
func (m *MockNotifier) Messages() []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotification, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// InMemoryVerificationCodeRepository is a stateful VerificationCodeRepository
// with the same atomicity as the SQL implementation
type InMemoryVerificationCodeRepository struct {
	mu    sync.Mutex
	seq   int
	Codes []*models.VerificationCode
}

func NewInMemoryVerificationCodeRepository() *InMemoryVerificationCodeRepository {
	return &InMemoryVerificationCodeRepository{}
}

func (r *InMemoryVerificationCodeRepository) ReplaceActive(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, c := range r.Codes {
		if c.Email == code.Email && c.Purpose == code.Purpose && !c.IsUsed {
			c.IsUsed = true
			usedAt := now
			c.UsedAt = &usedAt
		}
	}

	r.seq++
	stored := *code
	stored.ID = "code-" + strconv.Itoa(r.seq)
	stored.Attempts = 0
	stored.CreatedAt = now
	r.Codes = append(r.Codes, &stored)

	out := stored
	return &out, nil
}

func (r *InMemoryVerificationCodeRepository) FindActive(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.Codes) - 1; i >= 0; i-- {
		c := r.Codes[i]
		if c.Email == email && c.Purpose == purpose && c.IsActive() {
			out := *c
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *InMemoryVerificationCodeRepository) RecordAttempt(ctx context.Context, id, submitted string, consume bool) (*models.CodeAttemptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.Codes {
		if c.ID != id {
			continue
		}
		if !c.IsActive() || c.AttemptsExhausted() {
			return nil, models.ErrNotFound
		}
		matched := c.Code == submitted
		if !matched {
			c.Attempts++
		} else if consume {
			now := time.Now()
			c.IsUsed = true
			c.UsedAt = &now
		}
		return &models.CodeAttemptResult{Matched: matched, Attempts: c.Attempts, MaxAttempts: c.MaxAttempts}, nil
	}
	return nil, models.ErrNotFound
}

func (r *InMemoryVerificationCodeRepository) ConsumeMatching(ctx context.Context, email string, purpose models.CodePurpose, submitted string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.Codes {
		if c.Email == email && c.Purpose == purpose && c.Code == submitted && c.IsActive() && !c.AttemptsExhausted() {
			now := time.Now()
			c.IsUsed = true
			c.UsedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

func (r *InMemoryVerificationCodeRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.Codes[:0]
	var deleted int64
	for _, c := range r.Codes {
		if c.ExpiresAt.Before(cutoff) || (c.IsUsed && c.UsedAt != nil && c.UsedAt.Before(cutoff)) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.Codes = kept
	return deleted, nil
}

// Active counts unused codes for (email, purpose) regardless of expiry
func (r *InMemoryVerificationCodeRepository) Active(email string, purpose models.CodePurpose) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Codes {
		if c.Email == email && c.Purpose == purpose && !c.IsUsed {
			n++
		}
	}
	return n
}

// InMemorySessionRepository is a stateful SessionRepository
type InMemorySessionRepository struct {
	mu       sync.Mutex
	seq      int
	Sessions map[string]*models.Session
	Touches  int
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{Sessions: make(map[string]*models.Session)}
}

func (r *InMemorySessionRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	now := time.Now()
	stored := *s
	stored.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", r.seq)
	stored.LoginAt = now
	stored.LastActivityAt = now
	stored.IsActive = true
	r.Sessions[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (r *InMemorySessionRepository) SetTokenHash(ctx context.Context, id, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.Sessions[id]
	if !ok || !s.IsActive {
		return models.ErrNotFound
	}
	if s.TokenHash != nil {
		return models.ErrConflict
	}
	s.TokenHash = &tokenHash
	return nil
}

func (r *InMemorySessionRepository) GetActive(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.Sessions[id]
	if !ok || !s.IsActive {
		return nil, models.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (r *InMemorySessionRepository) TouchActivity(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.Sessions[id]; ok && s.IsActive {
		s.LastActivityAt = time.Now()
		r.Touches++
	}
	return nil
}

func (r *InMemorySessionRepository) Revoke(ctx context.Context, id, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.Sessions[id]
	if !ok || !s.IsActive {
		return 0, nil
	}
	revoke(s, reason)
	return 1, nil
}

func (r *InMemorySessionRepository) RevokeForCustomer(ctx context.Context, customerID, exceptID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.Sessions {
		if s.CustomerID == customerID && s.IsActive && s.ID != exceptID {
			revoke(s, reason)
			n++
		}
	}
	return n, nil
}

func revoke(s *models.Session, reason string) {
	now := time.Now()
	s.IsActive = false
	s.RevokedAt = &now
	s.RevokeReason = &reason
}

func (r *InMemorySessionRepository) ListActive(ctx context.Context, customerID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Session, 0)
	for _, s := range r.Sessions {
		if s.CustomerID == customerID && s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (r *InMemorySessionRepository) DeleteStale(ctx context.Context, revokedBefore, idleBefore, createdBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.Sessions {
		if (s.RevokedAt != nil && s.RevokedAt.Before(revokedBefore)) ||
			s.LastActivityAt.Before(idleBefore) ||
			s.LoginAt.Before(createdBefore) {
			delete(r.Sessions, id)
			n++
		}
	}
	return n, nil
}

// ActiveCount counts a customer's active sessions
func (r *InMemorySessionRepository) ActiveCount(customerID string) int {
	sessions, _ := r.ListActive(context.Background(), customerID)
	return len(sessions)
}

// InMemoryLoginAttemptRepository is a stateful LoginAttemptRepository
type InMemoryLoginAttemptRepository struct {
	mu       sync.Mutex
	seq      int
	Attempts []*models.LoginAttempt
	// Clock stamps new rows; defaults to time.Now
	Clock func() time.Time
}

func NewInMemoryLoginAttemptRepository() *InMemoryLoginAttemptRepository {
	return &InMemoryLoginAttemptRepository{Clock: time.Now}
}

func (r *InMemoryLoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt, key models.TrackingKey, streak func(prev *models.LoginAttempt) (int, bool)) (*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.latestLocked(key, false)
	attempt.ConsecutiveFailures, attempt.TriggeredLockout = streak(prev)

	r.seq++
	stored := *attempt
	stored.ID = "attempt-" + strconv.Itoa(r.seq)
	stored.AttemptedAt = r.Clock()
	r.Attempts = append(r.Attempts, &stored)

	out := stored
	return &out, nil
}

func (r *InMemoryLoginAttemptRepository) Latest(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestLocked(key, false), nil
}

func (r *InMemoryLoginAttemptRepository) LatestLockout(ctx context.Context, key models.TrackingKey) (*models.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestLocked(key, true), nil
}

func (r *InMemoryLoginAttemptRepository) latestLocked(key models.TrackingKey, lockoutsOnly bool) *models.LoginAttempt {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		a := r.Attempts[i]
		value := a.Email
		if key.Kind == models.TrackByIP {
			value = a.IPAddress
		}
		if value != key.Value || (lockoutsOnly && !a.TriggeredLockout) {
			continue
		}
		out := *a
		return &out
	}
	return nil
}

func (r *InMemoryLoginAttemptRepository) CountFailuresSinceSuccess(ctx context.Context, key models.TrackingKey) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		a := r.Attempts[i]
		value := a.Email
		if key.Kind == models.TrackByIP {
			value = a.IPAddress
		}
		if value != key.Value {
			continue
		}
		if a.Success {
			break
		}
		if a.FailureReason == nil || *a.FailureReason != models.FailureAccountLocked {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryLoginAttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.Attempts[:0]
	var n int64
	for _, a := range r.Attempts {
		if a.AttemptedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.Attempts = kept
	return n, nil
}

// InMemoryPasswordHistoryRepository is a stateful PasswordHistoryRepository
type InMemoryPasswordHistoryRepository struct {
	mu      sync.Mutex
	Entries []*models.PasswordHistoryEntry
}

func (r *InMemoryPasswordHistoryRepository) Append(ctx context.Context, entry *models.PasswordHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *entry
	stored.ID = strconv.Itoa(len(r.Entries) + 1)
	stored.ChangedAt = time.Now()
	r.Entries = append(r.Entries, &stored)
	return nil
}

func (r *InMemoryPasswordHistoryRepository) Recent(ctx context.Context, customerID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.PasswordHistoryEntry, 0, limit)
	for i := len(r.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.Entries[i].CustomerID == customerID {
			out = append(out, r.Entries[i])
		}
	}
	return out, nil
}

func (r *InMemoryPasswordHistoryRepository) PruneBeyond(ctx context.Context, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]int)
	kept := make([]*models.PasswordHistoryEntry, 0, len(r.Entries))
	var n int64
	for i := len(r.Entries) - 1; i >= 0; i-- {
		e := r.Entries[i]
		seen[e.CustomerID]++
		if seen[e.CustomerID] > keep {
			n++
			continue
		}
		kept = append([]*models.PasswordHistoryEntry{e}, kept...)
	}
	r.Entries = kept
	return n, nil
}

// InMemoryCustomerRepository is a stateful CustomerRepository keyed by id
type InMemoryCustomerRepository struct {
	mu        sync.Mutex
	Customers map[string]*models.Customer
}

func NewInMemoryCustomerRepository(customers ...*models.Customer) *InMemoryCustomerRepository {
	r := &InMemoryCustomerRepository{Customers: make(map[string]*models.Customer)}
	for _, c := range customers {
		r.Customers[c.ID] = c
	}
	return r
}

func (r *InMemoryCustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.Customers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *InMemoryCustomerRepository) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *models.Customer
	for _, c := range r.Customers {
		if normalizeEmail(c.Email) != normalizeEmail(email) {
			continue
		}
		if found == nil || (found.IsGuest && !c.IsGuest) {
			found = c
		}
	}
	if found == nil {
		return nil, models.ErrNotFound
	}
	out := *found
	return &out, nil
}

func (r *InMemoryCustomerRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.Customers[id]
	if !ok {
		return models.ErrNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

func (r *InMemoryCustomerRepository) MarkEmailVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.Customers[id]
	if !ok {
		return models.ErrNotFound
	}
	c.EmailVerified = true
	return nil
}

// NewTestCustomer returns an active, verified, registered customer
func NewTestCustomer(id, email, passwordHash string) *models.Customer {
	now := time.Now()
	return &models.Customer{
		ID:            id,
		Email:         email,
		PasswordHash:  passwordHash,
		FirstName:     "Test",
		LastName:      "Customer",
		EmailVerified: true,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
