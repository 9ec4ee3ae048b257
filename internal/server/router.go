package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	identityContextKey       = "letters_identity"
	defaultHeartbeatInterval = 30 * time.Second
	loginFailureRedirect     = "/"
)

var (
	errMissingOAuthFlow        = errors.New("oauth flow dependency required")
	errMissingGoogleVerifier   = errors.New("google verifier dependency required")
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserService      = errors.New("user service dependency required")
	errMissingLettersService   = errors.New("letters service dependency required")
	errMissingClientURL        = errors.New("client url required")
)

type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.LoginGrant, error)
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type SessionIssuer interface {
	Issue(userID, sessionID string) (string, time.Time, error)
	TTL() time.Duration
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

type UserService interface {
	RecordLogin(ctx context.Context, record users.LoginRecord) (users.Session, error)
	ResolveSession(ctx context.Context, sessionID, userID string) (users.Session, error)
	UpdateSessionToken(ctx context.Context, sessionID string, token *oauth2.Token) error
	EndSession(ctx context.Context, sessionID string) error
	Profile(ctx context.Context, userID string) (users.Profile, error)
}

type LettersService interface {
	List(ctx context.Context, identity users.Identity) ([]letters.Letter, error)
	Get(ctx context.Context, identity users.Identity, letterID string) (letters.Letter, error)
	Save(ctx context.Context, identity users.Identity, request letters.SaveRequest) (letters.SaveResult, error)
	Delete(ctx context.Context, identity users.Identity, letterID string) error
}

type Dependencies struct {
	OAuth             OAuthFlow
	GoogleVerifier    GoogleVerifier
	SessionIssuer     SessionIssuer
	SessionValidator  SessionValidator
	Users             UserService
	Letters           LettersService
	Realtime          *RealtimeDispatcher
	HealthCheck       func(context.Context) error
	ClientURL         string
	AllowedOrigins    []string
	SecureCookies     bool
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.OAuth == nil:
		return nil, errMissingOAuthFlow
	case deps.GoogleVerifier == nil:
		return nil, errMissingGoogleVerifier
	case deps.SessionIssuer == nil:
		return nil, errMissingSessionIssuer
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.Users == nil:
		return nil, errMissingUserService
	case deps.Letters == nil:
		return nil, errMissingLettersService
	case deps.ClientURL == "":
		return nil, errMissingClientURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{deps.ClientURL}
	}

	handler := &httpHandler{
		oauth:          deps.OAuth,
		verifier:       deps.GoogleVerifier,
		issuer:         deps.SessionIssuer,
		validator:      deps.SessionValidator,
		users:          deps.Users,
		letters:        deps.Letters,
		realtime:       realtime,
		healthCheck:    deps.HealthCheck,
		clientURL:      deps.ClientURL,
		allowedOrigins: origins,
		secureCookies:  deps.SecureCookies,
		heartbeat:      heartbeat,
		logger:         logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(origins))

	router.GET("/healthz", handler.handleHealth)

	authRoutes := router.Group("/auth")
	authRoutes.GET("/google", handler.handleBeginLogin)
	authRoutes.GET("/google/callback", handler.handleLoginCallback)
	authRoutes.GET("/user", handler.handleCurrentUser)
	authRoutes.GET("/logout", handler.handleLogout)

	letterRoutes := router.Group("/letters")
	letterRoutes.Use(handler.requireSession)
	letterRoutes.GET("/", handler.handleListLetters)
	letterRoutes.GET("/events", handler.handleLetterEvents)
	letterRoutes.GET("/:id", handler.handleGetLetter)
	letterRoutes.POST("/save", handler.handleSaveLetter)
	letterRoutes.DELETE("/:id", handler.handleDeleteLetter)

	return router, nil
}

type httpHandler struct {
	oauth          OAuthFlow
	verifier       GoogleVerifier
	issuer         SessionIssuer
	validator      SessionValidator
	users          UserService
	letters        LettersService
	realtime       *RealtimeDispatcher
	healthCheck    func(context.Context) error
	clientURL      string
	allowedOrigins []string
	secureCookies  bool
	heartbeat      time.Duration
	logger         *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
