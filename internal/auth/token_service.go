package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/store"
	"github.com/sikulab/secauth/internal/users"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is the bearer grant returned to the transport layer.
type TokenPair struct {
	SessionID        string `json:"sessionId"`
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Username  string   `json:"username,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"typ"`
}

type TokenConfig struct {
	Secret          []byte
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// RememberMeTTL is the refresh TTL for remember-me sessions.
	RememberMeTTL time.Duration
}

func (c *TokenConfig) sanitize() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = params.AccessTokenExpiration
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = params.RefreshTokenExpiration
	}
	if c.RememberMeTTL <= 0 {
		c.RememberMeTTL = params.RememberMeRefreshMax
	}
}

// TokenService mints, rotates and revokes token pairs against the session
// registry. Access tokens are stateless and expire on their own; revocation
// operates on the session and its refresh token.
type TokenService struct {
	config        TokenConfig
	sessions      store.Store[SessionRecord]
	refreshTokens store.Store[RefreshRecord]
	userRepo      users.UserRepository
	recorder      *audit.Recorder
}

func NewTokenService(config TokenConfig, sessions store.Store[SessionRecord], refreshTokens store.Store[RefreshRecord], userRepo users.UserRepository, recorder *audit.Recorder) *TokenService {
	config.sanitize()
	return &TokenService{
		config:        config,
		sessions:      sessions,
		refreshTokens: refreshTokens,
		userRepo:      userRepo,
		recorder:      recorder,
	}
}

func (s *TokenService) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.config.RememberMeTTL
	}
	return s.config.RefreshTokenTTL
}

// Issue mints a fresh session with a new token pair and registers it.
func (s *TokenService) Issue(ctx context.Context, user *model.User, client audit.Client, rememberMe bool) (*TokenPair, error) {
	now := time.Now()
	sessionID := uuid.NewString()
	refreshTTL := s.refreshTTL(rememberMe)

	pair, refreshID, err := s.mintPair(user.ID, user.Username, user.Roles.List(), sessionID, now, refreshTTL)
	if err != nil {
		return nil, errcode.ErrSystem
	}

	refreshRecord := RefreshRecord{
		RefreshID: refreshID,
		SessionID: sessionID,
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: now.Add(refreshTTL),
	}
	if err := s.refreshTokens.Set(ctx, refreshID, refreshRecord, refreshTTL); err != nil {
		return nil, errcode.ErrServiceUnavailable
	}
	session := SessionRecord{
		SessionID:  sessionID,
		UserID:     user.ID,
		Username:   user.Username,
		RefreshID:  refreshID,
		RememberMe: rememberMe,
		IssuedAt:   now,
		ExpiresAt:  now.Add(refreshTTL),
		ClientIP:   client.IP,
		UserAgent:  client.UserAgent,
		Device:     client.Device,
	}
	if err := s.sessions.Set(ctx, sessionID, session, refreshTTL); err != nil {
		return nil, errcode.ErrServiceUnavailable
	}
	return pair, nil
}

// Refresh performs a strict rotation: consuming the presented refresh token
// and minting a replacement pair. Consumption is the atomic commit point, so
// of two concurrent calls with the same token exactly one succeeds; the other
// observes a consumed token and is reported as a replay.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, client audit.Client) (*TokenPair, error) {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		s.recorder.RecordTokenRefresh(audit.TokenRefreshRecord{
			Client: client,
			Reason: "unparsable or expired refresh token",
		})
		if errors.Is(err, errcode.ErrTokenExpired) {
			return nil, errcode.ErrRefreshTokenExpired
		}
		return nil, errcode.ErrRefreshTokenInvalid
	}
	actor := audit.Actor{Username: claims.Username}
	if userID, convErr := strconv.ParseUint(claims.Subject, 10, 64); convErr == nil {
		actor.UserID = userID
	}

	record, err := s.refreshTokens.Remove(ctx, claims.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Valid signature but no unconsumed record: the token was already
		// rotated or revoked. Treat as replay.
		s.recorder.RecordTokenRefresh(audit.TokenRefreshRecord{
			Actor:     actor,
			Client:    client,
			SessionID: claims.SessionID,
			Reused:    true,
			Reason:    "refresh token already consumed",
		})
		return nil, errcode.ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, errcode.ErrServiceUnavailable
	}
	actor = audit.Actor{UserID: record.UserID, Username: record.Username}

	session, err := s.sessions.Get(ctx, record.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.recorder.RecordTokenRefresh(audit.TokenRefreshRecord{
			Actor:     actor,
			Client:    client,
			SessionID: record.SessionID,
			Reason:    "session no longer exists",
		})
		return nil, errcode.ErrSessionExpired
	}
	if err != nil {
		return nil, errcode.ErrServiceUnavailable
	}

	user, err := s.userRepo.GetByID(ctx, record.UserID)
	if err != nil {
		return nil, errcode.ErrDatabase
	}
	if !user.IsEnabled() {
		_ = s.sessions.Delete(ctx, session.SessionID)
		s.recorder.RecordTokenRefresh(audit.TokenRefreshRecord{
			Actor:     actor,
			Client:    client,
			SessionID: session.SessionID,
			Reason:    "account disabled",
		})
		return nil, errcode.ErrAccountDisabled
	}

	now := time.Now()
	refreshTTL := s.refreshTTL(session.RememberMe)
	pair, refreshID, err := s.mintPair(user.ID, user.Username, user.Roles.List(), session.SessionID, now, refreshTTL)
	if err != nil {
		return nil, errcode.ErrSystem
	}
	newRecord := RefreshRecord{
		RefreshID: refreshID,
		SessionID: session.SessionID,
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: now.Add(refreshTTL),
	}
	if err := s.refreshTokens.Set(ctx, refreshID, newRecord, refreshTTL); err != nil {
		return nil, errcode.ErrServiceUnavailable
	}
	session.RefreshID = refreshID
	session.ExpiresAt = now.Add(refreshTTL)
	if err := s.sessions.Set(ctx, session.SessionID, session, refreshTTL); err != nil {
		return nil, errcode.ErrServiceUnavailable
	}

	s.recorder.RecordTokenRefresh(audit.TokenRefreshRecord{
		Actor:     actor,
		Client:    client,
		SessionID: session.SessionID,
		Success:   true,
	})
	return pair, nil
}

// Revoke tears down a session and its refresh token. Revoking a session that
// is already gone is a successful no-op.
func (s *TokenService) Revoke(ctx context.Context, sessionID string, client audit.Client) error {
	session, err := s.sessions.Remove(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errcode.ErrServiceUnavailable
	}
	if session.RefreshID != "" {
		if err := s.refreshTokens.Delete(ctx, session.RefreshID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return errcode.ErrServiceUnavailable
		}
	}
	s.recorder.RecordLogout(audit.LogoutRecord{
		Actor:     audit.Actor{UserID: session.UserID, Username: session.Username},
		Client:    client,
		SessionID: session.SessionID,
	})
	return nil
}

// RevokeByRefreshToken resolves the session behind a refresh token and
// revokes it, for clients that only hold the token.
func (s *TokenService) RevokeByRefreshToken(ctx context.Context, refreshToken string, client audit.Client) error {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return errcode.ErrRefreshTokenInvalid
	}
	return s.Revoke(ctx, claims.SessionID, client)
}

// ParseAccessToken validates a bearer access token and extracts the request
// identity. Registry state is deliberately not consulted; access tokens are
// stateless until expiry.
func (s *TokenService) ParseAccessToken(tokenString string) (*UserSession, error) {
	claims, err := s.parseToken(tokenString, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	userID, convErr := strconv.ParseUint(claims.Subject, 10, 64)
	if convErr != nil {
		return nil, errcode.ErrTokenInvalid
	}
	return &UserSession{
		UserID:    userID,
		SessionID: claims.SessionID,
		Username:  claims.Username,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) mintPair(userID uint64, username string, roles []string, sessionID string, now time.Time, refreshTTL time.Duration) (*TokenPair, string, error) {
	refreshID := uuid.NewString()
	subject := strconv.FormatUint(userID, 10)

	accessClaims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTokenTTL)),
		},
		SessionID: sessionID,
		Username:  username,
		Roles:     roles,
		TokenType: tokenTypeAccess,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.config.Secret)
	if err != nil {
		return nil, "", err
	}

	refreshClaims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        refreshID,
			Subject:   subject,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTTL)),
		},
		SessionID: sessionID,
		Username:  username,
		TokenType: tokenTypeRefresh,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.config.Secret)
	if err != nil {
		return nil, "", err
	}

	return &TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.config.AccessTokenTTL.Seconds()),
		RefreshExpiresIn: int64(refreshTTL.Seconds()),
	}, refreshID, nil
}

func (s *TokenService) parseToken(tokenString string, wantType string) (*tokenClaims, error) {
	claims := new(tokenClaims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errcode.ErrTokenInvalid
		}
		return s.config.Secret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithAudience(s.config.Audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errcode.ErrTokenExpired
		}
		return nil, errcode.ErrTokenInvalid
	}
	if claims.TokenType != wantType {
		return nil, errcode.ErrTokenInvalid
	}
	return claims, nil
}
