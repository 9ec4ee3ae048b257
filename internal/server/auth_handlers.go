package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	oauthStateCookieName = "letters_oauth_state"
	oauthStateCookiePath = "/auth/google"
	oauthStateTTL        = 10 * time.Minute
	unauthorizedMessage  = "Unauthorized"
)

var errNoSession = errors.New("no valid session")

func (h *httpHandler) handleBeginLogin(c *gin.Context) {
	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", zap.Error(err))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}
	h.setCookie(c, &http.Cookie{
		Name:    oauthStateCookieName,
		Value:   state,
		Path:    oauthStateCookiePath,
		MaxAge:  int(oauthStateTTL.Seconds()),
		Expires: time.Now().Add(oauthStateTTL),
	})
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

func (h *httpHandler) handleLoginCallback(c *gin.Context) {
	h.clearCookie(c, oauthStateCookieName, oauthStateCookiePath)

	if providerError := c.Query("error"); providerError != "" {
		h.logger.Info("google login declined", zap.String("error", providerError))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	expectedState, err := c.Cookie(oauthStateCookieName)
	state := c.Query("state")
	if err != nil || expectedState == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch")
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	ctx := c.Request.Context()
	grant, err := h.oauth.Exchange(ctx, c.Query("code"))
	if err != nil {
		h.logger.Warn("oauth code exchange failed", zap.Error(err))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	claims, err := h.verifier.Verify(ctx, grant.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	session, err := h.users.RecordLogin(ctx, users.LoginRecord{
		Claims:     claims,
		Token:      grant.Token,
		SessionTTL: h.issuer.TTL(),
	})
	if err != nil {
		h.logger.Error("failed to record login", zap.Error(err))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	token, expiresAt, err := h.issuer.Issue(session.UserID, session.SessionID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.Redirect(http.StatusFound, loginFailureRedirect)
		return
	}

	h.setCookie(c, &http.Cookie{
		Name:    h.validator.CookieName(),
		Value:   token,
		Path:    "/",
		Expires: expiresAt,
		MaxAge:  int(time.Until(expiresAt).Seconds()),
	})
	h.logger.Info("user signed in", zap.String("user_id", session.UserID))
	c.Redirect(http.StatusFound, h.clientURL)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	session, err := h.lookupSession(c)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	profile, err := h.users.Profile(c.Request.Context(), session.UserID)
	if err != nil {
		if !errors.Is(err, users.ErrProfileNotFound) {
			h.logger.Error("failed to load profile", zap.String("user_id", session.UserID), zap.Error(err))
		}
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if claims, err := h.validator.ValidateRequest(c.Request); err == nil {
		if err := h.users.EndSession(c.Request.Context(), claims.SessionID()); err != nil {
			h.logger.Warn("failed to end session", zap.String("user_id", claims.UserID()), zap.Error(err))
		}
	}
	h.clearCookie(c, h.validator.CookieName(), "/")
	c.Redirect(http.StatusFound, h.clientURL)
}

// requireSession resolves the cookie into an Identity carrying a usable
// delegated token, refreshing and persisting the token when it expired.
func (h *httpHandler) requireSession(c *gin.Context) {
	session, err := h.lookupSession(c)
	if errors.Is(err, errNoSession) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
		return
	}
	if err != nil {
		h.logger.Error("session lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	ctx := c.Request.Context()
	stored := session.OAuthToken()
	token, err := h.oauth.Refresh(ctx, stored)
	if err != nil {
		h.logger.Warn("delegated token refresh failed", zap.String("user_id", session.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
		return
	}
	if token.AccessToken != stored.AccessToken {
		if err := h.users.UpdateSessionToken(ctx, session.SessionID, token); err != nil {
			h.logger.Warn("failed to persist refreshed token", zap.String("user_id", session.UserID), zap.Error(err))
		}
		session.AccessToken = token.AccessToken
	}

	c.Set(identityContextKey, session.Identity())
	c.Next()
}

// lookupSession returns errNoSession for any cookie or session the caller
// cannot authenticate with; other errors come from the session store.
func (h *httpHandler) lookupSession(c *gin.Context) (users.Session, error) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		h.logSessionError(err)
		return users.Session{}, errNoSession
	}
	session, err := h.users.ResolveSession(c.Request.Context(), claims.SessionID(), claims.UserID())
	if errors.Is(err, users.ErrSessionNotFound) {
		h.logger.Info("session not found", zap.String("user_id", claims.UserID()))
		return users.Session{}, errNoSession
	}
	return session, err
}

func (h *httpHandler) logSessionError(err error) {
	if isExpectedSessionError(err) {
		h.logger.Info("session validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("session validation failed", zap.Error(err))
}

func isExpectedSessionError(err error) bool {
	return errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken)
}

func (h *httpHandler) setCookie(c *gin.Context, cookie *http.Cookie) {
	cookie.HttpOnly = true
	cookie.Secure = h.secureCookies
	cookie.SameSite = http.SameSiteLaxMode
	if h.secureCookies {
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(c.Writer, cookie)
}

func (h *httpHandler) clearCookie(c *gin.Context, name, path string) {
	h.setCookie(c, &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    path,
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}

func identityFromContext(c *gin.Context) users.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return users.Identity{}
	}
	identity, _ := value.(users.Identity)
	return identity
}
