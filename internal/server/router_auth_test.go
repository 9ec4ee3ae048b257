package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/oauth2"
)

func TestRequireSessionLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubValidator{err: auth.ErrExpiredSessionToken},
		logger:    zap.New(core),
	}

	handler.requireSession(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(recorder.Body.String(), `"error":"Unauthorized"`) {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestRequireSessionLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubValidator{err: auth.ErrInvalidSessionToken},
		logger:    zap.New(core),
	}

	handler.requireSession(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestLettersRoutesRejectMissingOrRevokedSession(t *testing.T) {
	harness := newTestHarness(t)
	cookie, session := harness.login(t, nil)
	if err := harness.users.EndSession(context.Background(), session.SessionID); err != nil {
		t.Fatalf("failed to end session: %v", err)
	}

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody),
		httptest.NewRequest(http.MethodPost, "/letters/save", strings.NewReader(`{"title":"Hi","content":"<p>x</p>"}`)),
		httptest.NewRequest(http.MethodDelete, "/letters/letter-1", http.NoBody),
	}
	revoked := httptest.NewRequest(http.MethodGet, "/letters/letter-1", http.NoBody)
	revoked.AddCookie(cookie)
	requests = append(requests, revoked)
	tampered := httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody)
	tampered.AddCookie(&http.Cookie{Name: testCookieName, Value: cookie.Value + "x"})
	requests = append(requests, tampered)

	for _, request := range requests {
		recorder := httptest.NewRecorder()
		harness.handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", request.Method, request.URL.Path, recorder.Code)
		}
	}
	if harness.letters.calls() != 0 {
		t.Fatalf("expected no letters calls without a session")
	}
}

func TestRequireSessionRefreshesExpiredDelegatedToken(t *testing.T) {
	harness := newTestHarness(t)
	expired := &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1", TokenType: "Bearer", Expiry: time.Now().Add(-time.Minute)}
	cookie, session := harness.login(t, expired)
	harness.oauth.refreshed = &oauth2.Token{AccessToken: "fresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}

	request := httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := harness.letters.identities[0]; got.AccessToken != "fresh" || got.UserID != testUserID {
		t.Fatalf("expected refreshed identity, got %#v", got)
	}

	stored, err := harness.users.ResolveSession(context.Background(), session.SessionID, testUserID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if stored.AccessToken != "fresh" || stored.RefreshToken != "refresh-1" {
		t.Fatalf("expected refreshed token to be persisted, got %#v", stored)
	}
}

func TestRequireSessionRejectsUnrefreshableToken(t *testing.T) {
	harness := newTestHarness(t)
	expired := &oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Minute)}
	cookie, _ := harness.login(t, expired)
	harness.oauth.refreshErr = errors.New("invalid_grant")

	request := httptest.NewRequest(http.MethodGet, "/letters/", http.NoBody)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if harness.letters.calls() != 0 {
		t.Fatalf("expected no letters calls")
	}
}

func beginLogin(t *testing.T, harness *testHarness) (*http.Cookie, string) {
	t.Helper()
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/google", http.NoBody))
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state on the consent redirect")
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == oauthStateCookieName {
			if !cookie.HttpOnly {
				t.Fatalf("expected state cookie to be http only")
			}
			return cookie, state
		}
	}
	t.Fatalf("expected state cookie")
	return nil, ""
}

func sessionCookieFrom(recorder *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName {
			return cookie
		}
	}
	return nil
}

func TestLoginCallbackOpensSession(t *testing.T) {
	harness := newTestHarness(t)
	harness.oauth.grant = auth.LoginGrant{
		Token:   &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)},
		IDToken: "id-token",
	}
	stateCookie, state := beginLogin(t, harness)

	callback := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state="+url.QueryEscape(state), http.NoBody)
	callback.AddCookie(stateCookie)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, callback)

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != testClientURL {
		t.Fatalf("expected redirect to client, got %d %s", recorder.Code, recorder.Header().Get("Location"))
	}
	if len(harness.oauth.codes) != 1 || harness.oauth.codes[0] != "auth-code" {
		t.Fatalf("expected code exchange, got %v", harness.oauth.codes)
	}
	sessionCookie := sessionCookieFrom(recorder)
	if sessionCookie == nil || sessionCookie.Value == "" || !sessionCookie.HttpOnly {
		t.Fatalf("expected http only session cookie, got %#v", sessionCookie)
	}

	userRequest := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	userRequest.AddCookie(&http.Cookie{Name: testCookieName, Value: sessionCookie.Value})
	userRecorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(userRecorder, userRequest)
	if userRecorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", userRecorder.Code)
	}
	var profile users.Profile
	if err := json.Unmarshal(userRecorder.Body.Bytes(), &profile); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if profile.UserID != testUserID || profile.Email != "writer@example.com" {
		t.Fatalf("unexpected profile %#v", profile)
	}
}

func TestLoginCallbackFailuresRedirectHome(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(*testHarness)
		query   func(state string) string
		cookie  bool
	}{
		{
			name:   "state mismatch",
			query:  func(string) string { return "code=c&state=forged" },
			cookie: true,
		},
		{
			name:  "missing state cookie",
			query: func(state string) string { return "code=c&state=" + url.QueryEscape(state) },
		},
		{
			name:   "consent declined",
			query:  func(state string) string { return "error=access_denied&state=" + url.QueryEscape(state) },
			cookie: true,
		},
		{
			name:    "exchange failure",
			prepare: func(h *testHarness) { h.oauth.exchangeErr = errors.New("bad code") },
			query:   func(state string) string { return "code=c&state=" + url.QueryEscape(state) },
			cookie:  true,
		},
		{
			name:    "verification failure",
			prepare: func(h *testHarness) { h.verifier.err = errors.New("bad signature") },
			query:   func(state string) string { return "code=c&state=" + url.QueryEscape(state) },
			cookie:  true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			harness := newTestHarness(t)
			harness.oauth.grant = auth.LoginGrant{Token: &oauth2.Token{AccessToken: "access-1"}, IDToken: "id-token"}
			if testCase.prepare != nil {
				testCase.prepare(harness)
			}
			stateCookie, state := beginLogin(t, harness)

			callback := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+testCase.query(state), http.NoBody)
			if testCase.cookie {
				callback.AddCookie(stateCookie)
			}
			recorder := httptest.NewRecorder()
			harness.handler.ServeHTTP(recorder, callback)

			if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginFailureRedirect {
				t.Fatalf("expected redirect to %s, got %d %s", loginFailureRedirect, recorder.Code, recorder.Header().Get("Location"))
			}
			if cookie := sessionCookieFrom(recorder); cookie != nil {
				t.Fatalf("expected no session cookie on failure")
			}
		})
	}
}

func TestCurrentUserWithoutSessionIsNull(t *testing.T) {
	harness := newTestHarness(t)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if strings.TrimSpace(recorder.Body.String()) != "null" {
		t.Fatalf("expected null body, got %s", recorder.Body.String())
	}
}

func TestLogoutEndsSessionAndClearsCookie(t *testing.T) {
	harness := newTestHarness(t)
	cookie, session := harness.login(t, nil)

	request := httptest.NewRequest(http.MethodGet, "/auth/logout", http.NoBody)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != testClientURL {
		t.Fatalf("expected redirect to client, got %d %s", recorder.Code, recorder.Header().Get("Location"))
	}
	cleared := sessionCookieFrom(recorder)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %#v", cleared)
	}
	if _, err := harness.users.ResolveSession(context.Background(), session.SessionID, testUserID); !errors.Is(err, users.ErrSessionNotFound) {
		t.Fatalf("expected session to be removed, got %v", err)
	}

	anonymous := httptest.NewRecorder()
	harness.handler.ServeHTTP(anonymous, httptest.NewRequest(http.MethodGet, "/auth/logout", http.NoBody))
	if anonymous.Code != http.StatusFound {
		t.Fatalf("expected logout without a session to redirect, got %d", anonymous.Code)
	}
}

func TestHealthz(t *testing.T) {
	harness := newTestHarness(t)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}
}
