package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// CapturingSender records outgoing mail instead of delivering it
type CapturingSender struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (c *CapturingSender) Send(ctx context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// LastTo returns the most recent message sent to an address
func (c *CapturingSender) LastTo(to string) *SentEmail {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].To == to {
			msg := c.sent[i]
			return &msg
		}
	}
	return nil
}

// Count returns how many messages have been captured
func (c *CapturingSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// TestServer wraps httptest.Server with the full route table over a real database
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Mail     *CapturingSender
	Accounts *services.AccountService
	Sessions *services.SessionService
}

// NewTestServer wires every service against db. The breach check is off
// so tests never reach the network.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codeService := services.NewVerificationCodeService(repositories.NewVerificationCodeRepository(db), services.VerificationCodeConfig{
		TTL:         15 * time.Minute,
		MaxAttempts: 3,
		Retention:   24 * time.Hour,
	}, logger)

	sessionService := services.NewSessionService(repositories.NewSessionRepository(db), services.SessionConfig{
		TokenHashCost:    4,
		RevokedRetention: 30 * 24 * time.Hour,
		IdleTimeout:      7 * 24 * time.Hour,
		MaxAge:           90 * 24 * time.Hour,
		TouchTimeout:     2 * time.Second,
	}, logger)

	attemptService := services.NewLoginAttemptService(repositories.NewLoginAttemptRepository(db), services.LoginAttemptConfig{
		Threshold:   5,
		Duration:    15 * time.Minute,
		Multiplier:  1.5,
		MaxDuration: time.Hour,
		Retention:   90 * 24 * time.Hour,
	}, logger)

	passwordService := services.NewPasswordPolicyService(repositories.NewPasswordHistoryRepository(db), nil, services.PasswordPolicyConfig{
		MinLength:    8,
		MaxLength:    100,
		MinScore:     2,
		HistoryDepth: 10,
	}, logger)

	mail := &CapturingSender{}
	tokenManager := auth.NewTokenManager("test-secret-32-characters-long-for-testing", time.Hour)

	accounts := services.NewAccountService(
		repositories.NewCustomerRepository(db),
		codeService,
		sessionService,
		passwordService,
		attemptService,
		services.NewEmailNotifier(mail),
		tokenManager,
		auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 20, RandomDelayMs: 5, DelayOnSuccess: true}),
		services.AccountConfig{RequireVerifiedEmail: true},
		logger,
	)

	ipConfig := &pkghttp.IPConfig{}
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:     handlers.NewAuthHandler(accounts, ipConfig, logger),
		SessionHandler:  handlers.NewSessionHandler(accounts, logger),
		PasswordHandler: handlers.NewPasswordHandler(accounts, ipConfig, logger),
		TokenManager:    tokenManager,
		Sessions:        sessionService,
		PublicLimit:     middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000, IPConfig: ipConfig},
		CustomerLimit:   middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000, IPConfig: ipConfig},
		Logger:          logger,
	})

	return &TestServer{
		Server:   httptest.NewServer(r),
		DB:       db,
		Mail:     mail,
		Accounts: accounts,
		Sessions: sessionService,
	}
}

// Close shuts down the test server and waits for detached work
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	ts.Accounts.WaitForNotifications()
	ts.Sessions.WaitForTouches()
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// WaitForMail polls until a message for to arrives or the timeout passes
func (ts *TestServer) WaitForMail(to string, timeout time.Duration) *SentEmail {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msg := ts.Mail.LastTo(to); msg != nil {
			return msg
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
