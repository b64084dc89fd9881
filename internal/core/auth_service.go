package core

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bullground.com/advisor-chat/internal/auth"
	"bullground.com/advisor-chat/internal/llm"
	"bullground.com/advisor-chat/internal/store"
)

const MinPasswordLength = 6

type UserStore interface {
	store.UserRepository
	store.TokenRepository
}

// AuthService is the identity collaborator: it owns credentials and turns
// bearer tokens into stable user ids.
type AuthService struct {
	users  UserStore
	issuer *auth.Issuer
	logger zerolog.Logger
}

func NewAuthService(users UserStore, issuer *auth.Issuer, logger zerolog.Logger) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("core: user store must not be nil")
	}
	if issuer == nil {
		return nil, errors.New("core: token issuer must not be nil")
	}
	return &AuthService{users: users, issuer: issuer, logger: logger.With().Str("component", "auth").Logger()}, nil
}

type Session struct {
	User    *store.User     `json:"user,omitempty"`
	Session *auth.TokenPair `json:"session"`
	Message string          `json:"message"`
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ValidationError("Invalid email format")
	}
	return email, nil
}

func (s *AuthService) Signup(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ValidationError("Password must be at least 6 characters")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, newError(ErrorSignup, "Failed to create user", err)
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(ErrorEmailTaken, "A user with this email already exists", err)
		}
		return nil, dbError("Failed to create user", err)
	}

	pair, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, newError(ErrorInternal, "Failed to create session", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User registered")
	return &Session{User: user, Session: pair, Message: "User registered successfully"}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ValidationError("Password is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, dbError("Failed to load user", err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, newError(ErrorLogin, "Invalid login credentials", nil)
	}

	pair, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, newError(ErrorInternal, "Failed to create session", err)
	}
	return &Session{User: user, Session: pair, Message: "Login successful"}, nil
}

// Refresh rotates the token pair. The presented refresh token is revoked so
// it cannot be replayed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ValidationError("Refresh token is required")
	}

	claims, err := s.issuer.Validate(refreshToken, auth.RefreshToken)
	if err != nil {
		return nil, newError(ErrorRefresh, "Invalid or expired refresh token", err)
	}
	if err := s.checkNotRevoked(ctx, claims); err != nil {
		return nil, newError(ErrorRefresh, "Invalid or expired refresh token", err)
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorRefresh, "Invalid or expired refresh token", err)
		}
		return nil, dbError("Failed to load user", err)
	}

	if err := s.revoke(ctx, claims); err != nil {
		return nil, dbError("Failed to rotate session", err)
	}
	pair, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return nil, newError(ErrorInternal, "Failed to create session", err)
	}
	return &Session{Session: pair, Message: "Token refreshed successfully"}, nil
}

// Logout revokes the presented access token and, when given, the refresh
// token of the same session.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.issuer.Validate(accessToken, auth.AccessToken)
	if err != nil {
		return tokenError(err)
	}
	if err := s.revoke(ctx, claims); err != nil {
		return dbError("Failed to log out", err)
	}

	if refreshToken != "" {
		rc, err := s.issuer.Validate(refreshToken, auth.RefreshToken)
		if err == nil && rc.Subject == claims.Subject {
			if err := s.revoke(ctx, rc); err != nil {
				return dbError("Failed to log out", err)
			}
		}
	}

	s.logger.Info().Str("user_id", claims.Subject).Msg("User logged out")
	return nil
}

// Authenticate validates a bearer access token and returns the user id.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.issuer.Validate(accessToken, auth.AccessToken)
	if err != nil {
		return "", tokenError(err)
	}
	if err := s.checkNotRevoked(ctx, claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorUserNotFound, "User not found", nil)
		}
		return nil, dbError("Failed to load user", err)
	}
	return user, nil
}

// UpdateRiskProfile sets or clears (empty string) the profile used to
// personalise advice.
func (s *AuthService) UpdateRiskProfile(ctx context.Context, userID, profile string) (*store.User, error) {
	profile = strings.ToLower(strings.TrimSpace(profile))
	var value *string
	if profile != "" {
		if !llm.ValidRiskProfile(profile) {
			return nil, ValidationError("riskProfile must be one of conservative, balanced, aggressive")
		}
		value = &profile
	}

	user, err := s.users.UpdateRiskProfile(ctx, userID, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrorUserNotFound, "User not found", nil)
		}
		return nil, dbError("Failed to update risk profile", err)
	}
	return user, nil
}

func (s *AuthService) checkNotRevoked(ctx context.Context, claims *auth.Claims) error {
	revoked, err := s.users.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return dbError("Failed to verify session", err)
	}
	if revoked {
		return newError(ErrorUnauthorized, "Session has been revoked", nil)
	}
	return nil
}

func (s *AuthService) revoke(ctx context.Context, claims *auth.Claims) error {
	expiresAt := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return s.users.RevokeToken(ctx, claims.ID, expiresAt)
}

func tokenError(err error) *Error {
	if errors.Is(err, auth.ErrTokenExpired) {
		return newError(ErrorTokenExpired, "Token expired", err)
	}
	return newError(ErrorUnauthorized, "Invalid token", err)
}
