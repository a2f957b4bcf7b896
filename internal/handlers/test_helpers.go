package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:41000"
	return req
}

// WithPrincipalContext marks the request as coming from an authenticated session
func WithPrincipalContext(req *http.Request, customerID, sessionID string) *http.Request {
	p := &models.Principal{CustomerID: customerID, SessionID: sessionID}
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAccountService implements every handler service interface for testing
type MockAccountService struct {
	LoginFunc                 func(ctx context.Context, email, password string, meta services.ClientMeta) (*services.LoginResult, error)
	LogoutFunc                func(ctx context.Context, p *models.Principal) error
	ForgotPasswordFunc        func(ctx context.Context, email string, meta services.ClientMeta) error
	VerifyResetCodeFunc       func(ctx context.Context, email, code string) error
	ResetPasswordFunc         func(ctx context.Context, email, code, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error)
	SendEmailVerificationFunc func(ctx context.Context, email string, meta services.ClientMeta) error
	ConfirmEmailFunc          func(ctx context.Context, email, code string) error
	RequestUnlockFunc         func(ctx context.Context, email string, meta services.ClientMeta) error
	ConfirmUnlockFunc         func(ctx context.Context, email, code string, meta services.ClientMeta) error
	ChangePasswordFunc        func(ctx context.Context, p *models.Principal, currentPassword, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error)
	CheckPasswordFunc         func(ctx context.Context, password string, pc models.PasswordContext) (*models.PasswordValidationResult, error)
	ListSessionsFunc          func(ctx context.Context, p *models.Principal) ([]*models.Session, error)
	RevokeSessionFunc         func(ctx context.Context, p *models.Principal, sessionID string) error
	RevokeOtherSessionsFunc   func(ctx context.Context, p *models.Principal) (int64, error)
	RevokeAllSessionsFunc     func(ctx context.Context, p *models.Principal) (int64, error)
}

func (m *MockAccountService) Login(ctx context.Context, email, password string, meta services.ClientMeta) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, meta)
}

func (m *MockAccountService) Logout(ctx context.Context, p *models.Principal) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, p)
}

func (m *MockAccountService) ForgotPassword(ctx context.Context, email string, meta services.ClientMeta) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email, meta)
}

func (m *MockAccountService) VerifyResetCode(ctx context.Context, email, code string) error {
	if m.VerifyResetCodeFunc == nil {
		return models.ErrCodeNotFound
	}
	return m.VerifyResetCodeFunc(ctx, email, code)
}

func (m *MockAccountService) ResetPassword(ctx context.Context, email, code, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error) {
	if m.ResetPasswordFunc == nil {
		return nil, models.ErrCodeNotFound
	}
	return m.ResetPasswordFunc(ctx, email, code, newPassword, meta)
}

func (m *MockAccountService) SendEmailVerification(ctx context.Context, email string, meta services.ClientMeta) error {
	if m.SendEmailVerificationFunc == nil {
		return nil
	}
	return m.SendEmailVerificationFunc(ctx, email, meta)
}

func (m *MockAccountService) ConfirmEmail(ctx context.Context, email, code string) error {
	if m.ConfirmEmailFunc == nil {
		return models.ErrCodeNotFound
	}
	return m.ConfirmEmailFunc(ctx, email, code)
}

func (m *MockAccountService) RequestUnlock(ctx context.Context, email string, meta services.ClientMeta) error {
	if m.RequestUnlockFunc == nil {
		return nil
	}
	return m.RequestUnlockFunc(ctx, email, meta)
}

func (m *MockAccountService) ConfirmUnlock(ctx context.Context, email, code string, meta services.ClientMeta) error {
	if m.ConfirmUnlockFunc == nil {
		return models.ErrCodeNotFound
	}
	return m.ConfirmUnlockFunc(ctx, email, code, meta)
}

func (m *MockAccountService) ChangePassword(ctx context.Context, p *models.Principal, currentPassword, newPassword string, meta services.ClientMeta) (*models.PasswordValidationResult, error) {
	if m.ChangePasswordFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.ChangePasswordFunc(ctx, p, currentPassword, newPassword, meta)
}

func (m *MockAccountService) CheckPassword(ctx context.Context, password string, pc models.PasswordContext) (*models.PasswordValidationResult, error) {
	if m.CheckPasswordFunc == nil {
		return &models.PasswordValidationResult{IsValid: true, Errors: []string{}, Suggestions: []string{}}, nil
	}
	return m.CheckPasswordFunc(ctx, password, pc)
}

func (m *MockAccountService) ListSessions(ctx context.Context, p *models.Principal) ([]*models.Session, error) {
	if m.ListSessionsFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListSessionsFunc(ctx, p)
}

func (m *MockAccountService) RevokeSession(ctx context.Context, p *models.Principal, sessionID string) error {
	if m.RevokeSessionFunc == nil {
		return nil
	}
	return m.RevokeSessionFunc(ctx, p, sessionID)
}

func (m *MockAccountService) RevokeOtherSessions(ctx context.Context, p *models.Principal) (int64, error) {
	if m.RevokeOtherSessionsFunc == nil {
		return 0, nil
	}
	return m.RevokeOtherSessionsFunc(ctx, p)
}

func (m *MockAccountService) RevokeAllSessions(ctx context.Context, p *models.Principal) (int64, error) {
	if m.RevokeAllSessionsFunc == nil {
		return 0, nil
	}
	return m.RevokeAllSessionsFunc(ctx, p)
}
