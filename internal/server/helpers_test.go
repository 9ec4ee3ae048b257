package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	testClientURL     = "https://letters.example.com"
	testCookieName    = "letters_session"
	testSigningSecret = "server-test-secret"
	testUserID        = "google-user-1"
)

type stubOAuth struct {
	mu          sync.Mutex
	grant       auth.LoginGrant
	exchangeErr error
	refreshed   *oauth2.Token
	refreshErr  error
	codes       []string
}

func (s *stubOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (s *stubOAuth) Exchange(_ context.Context, code string) (auth.LoginGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return s.grant, s.exchangeErr
}

func (s *stubOAuth) Refresh(_ context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	if token.Valid() || s.refreshed == nil {
		return token, nil
	}
	return s.refreshed, nil
}

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

type stubValidator struct {
	err error
}

func (s stubValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.err
}

func (stubValidator) CookieName() string {
	return testCookieName
}

type stubLetters struct {
	mu           sync.Mutex
	identities   []users.Identity
	saveRequests []letters.SaveRequest
	list         []letters.Letter
	letter       letters.Letter
	saveResult   letters.SaveResult
	err          error
}

func (s *stubLetters) record(identity users.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = append(s.identities, identity)
}

func (s *stubLetters) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}

func (s *stubLetters) List(_ context.Context, identity users.Identity) ([]letters.Letter, error) {
	s.record(identity)
	return s.list, s.err
}

func (s *stubLetters) Get(_ context.Context, identity users.Identity, _ string) (letters.Letter, error) {
	s.record(identity)
	return s.letter, s.err
}

func (s *stubLetters) Save(_ context.Context, identity users.Identity, request letters.SaveRequest) (letters.SaveResult, error) {
	s.record(identity)
	s.mu.Lock()
	s.saveRequests = append(s.saveRequests, request)
	s.mu.Unlock()
	return s.saveResult, s.err
}

func (s *stubLetters) Delete(_ context.Context, identity users.Identity, _ string) error {
	s.record(identity)
	return s.err
}

type testHarness struct {
	handler   http.Handler
	db        *gorm.DB
	users     *users.Service
	issuer    *auth.SessionIssuer
	oauth     *stubOAuth
	letters   *stubLetters
	realtime  *RealtimeDispatcher
	logs      *observer.ObservedLogs
	verifier  *stubVerifier
	heartbeat time.Duration
}

type harnessOption func(*testHarness)

func withHeartbeat(interval time.Duration) harnessOption {
	return func(h *testHarness) {
		h.heartbeat = interval
	}
}

func newTestHarness(t *testing.T, options ...harnessOption) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.Profile{}, &users.Session{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret), TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to build session issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret), CookieName: testCookieName})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	harness := &testHarness{
		db:       db,
		users:    userService,
		issuer:   issuer,
		oauth:    &stubOAuth{},
		letters:  &stubLetters{},
		realtime: NewRealtimeDispatcher(),
		logs:     logs,
		verifier: &stubVerifier{claims: auth.GoogleClaims{Subject: testUserID, Email: "writer@example.com", Name: "Letter Writer"}},
	}
	for _, option := range options {
		option(harness)
	}

	handler, err := NewHTTPHandler(Dependencies{
		OAuth:             harness.oauth,
		GoogleVerifier:    harness.verifier,
		SessionIssuer:     issuer,
		SessionValidator:  validator,
		Users:             userService,
		Letters:           harness.letters,
		Realtime:          harness.realtime,
		HealthCheck:       func(context.Context) error { return nil },
		ClientURL:         testClientURL,
		HeartbeatInterval: harness.heartbeat,
		Logger:            zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	harness.handler = handler
	return harness
}

// login opens a session directly in the store and returns the matching cookie.
func (h *testHarness) login(t *testing.T, token *oauth2.Token) (*http.Cookie, users.Session) {
	t.Helper()
	if token == nil {
		token = &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	}
	session, err := h.users.RecordLogin(context.Background(), users.LoginRecord{
		Claims:     auth.GoogleClaims{Subject: testUserID, Email: "writer@example.com", Name: "Letter Writer"},
		Token:      token,
		SessionTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to record login: %v", err)
	}
	value, _, err := h.issuer.Issue(session.UserID, session.SessionID)
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: value}, session
}

var errStubUpstream = errors.New("upstream exploded")
