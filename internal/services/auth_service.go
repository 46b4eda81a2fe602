package services

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	corpchat_errors "corpchat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultSessionTTL = 24 * time.Hour

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// AuthService issues and verifies session tokens. Users pick their identity; there are
// no passwords.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthService{
		jwtSecret: []byte(secret),
		accessTTL: ttl,
		now:       time.Now,
	}
}

type SessionResponse struct {
	AccessToken string `json:"token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func ValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

// Issue signs a session token for the picked identity.
func (s *AuthService) Issue(userID string) (SessionResponse, error) {
	userID = strings.TrimSpace(userID)
	if !ValidUserID(userID) {
		return SessionResponse{}, corpchat_errors.Validation("session", "userId must be 1-64 characters of letters, digits, dot, dash or underscore")
	}

	sessionID := uuid.NewString()
	now := s.now()
	claims := AccessClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return SessionResponse{}, err
	}

	return SessionResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		SessionID:   sessionID,
		UserID:      userID,
	}, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, corpchat_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, corpchat_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return AccessClaims{}, corpchat_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || !ValidUserID(claims.UserID) {
		return AccessClaims{}, corpchat_errors.ErrUnauthorized
	}

	return *claims, nil
}

// HTTPStatus maps an error to the status code REST handlers answer with.
func HTTPStatus(err error) int {
	switch corpchat_errors.KindOf(err) {
	case corpchat_errors.KindValidation:
		return http.StatusBadRequest
	case corpchat_errors.KindPermission:
		if errors.Is(err, corpchat_errors.ErrUnauthorized) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case corpchat_errors.KindStaleTarget:
		return http.StatusNotFound
	case corpchat_errors.KindRateLimited:
		return http.StatusTooManyRequests
	case corpchat_errors.KindTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, corpchat_errors.ErrAlreadyExists) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type ctxKey string

var userIDKey ctxKey = "user_id"
var sessionIDKey ctxKey = "session_id"

func WithUserSessionContext(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok && sessionID != ""
}
