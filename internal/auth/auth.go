// Package auth implements account registration, login, logout and session
// validation. Sessions are opaque 32-hex tokens drawn from crypto/rand and
// expire lazily after one hour of inactivity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/protocol"
	"skintrade/internal/store"
	"skintrade/pkg/types"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 31
	minPasswordLen = 6
	maxPasswordLen = 64
)

// LoginHook receives successful-login notifications (streak advancement).
type LoginHook interface {
	OnLogin(ctx context.Context, userID int64, at time.Time)
}

// Service implements the auth operations on top of the store.
type Service struct {
	store           *store.Store
	hasher          PasswordHasher
	loginHook       LoginHook
	sessionTTL      time.Duration
	startingBalance decimal.Decimal
	now             func() time.Time
	logger          *slog.Logger
}

// New wires an auth service. loginHook may be nil.
func New(st *store.Store, hasher PasswordHasher, loginHook LoginHook, sessionTTL time.Duration, startingBalance decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{
		store:           st,
		hasher:          hasher,
		loginHook:       loginHook,
		sessionTTL:      sessionTTL,
		startingBalance: startingBalance,
		now:             time.Now,
		logger:          logger.With("component", "auth"),
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register creates a new account with the starting balance and returns its
// user id.
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return 0, protocol.Errf(protocol.CodeInvalidCredentials, "username length must be in [%d, %d]", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return 0, protocol.Errf(protocol.CodeInvalidCredentials, "password length must be in [%d, %d]", minPasswordLen, maxPasswordLen)
	}

	id, err := s.store.CreateUser(ctx, username, s.hasher.Hash(password), s.startingBalance, s.now())
	if errors.Is(err, store.ErrDuplicate) {
		return 0, protocol.Errf(protocol.CodeUserExists, "username %q taken", username)
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("user registered", "user_id", id, "username", username)
	return id, nil
}

// Login verifies credentials and issues a fresh session token.
func (s *Service) Login(ctx context.Context, username, password string) (token string, userID int64, err error) {
	u, err := s.store.UserByName(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", 0, protocol.Errf(protocol.CodeInvalidCredentials, "unknown user %q", username)
	}
	if err != nil {
		return "", 0, err
	}
	if u.Banned {
		return "", 0, protocol.Errf(protocol.CodeBanned, "user %d is banned", u.ID)
	}
	if !s.hasher.Verify(password, u.PasswordDigest) {
		return "", 0, protocol.Errf(protocol.CodeInvalidCredentials, "bad password for %q", username)
	}

	token, err = newToken()
	if err != nil {
		return "", 0, err
	}
	now := s.now()
	sess := &types.Session{
		Token:        token,
		UserID:       u.ID,
		LoginTime:    now,
		LastActivity: now,
		Active:       true,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return "", 0, err
	}
	if err := s.store.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return "", 0, err
	}
	if s.loginHook != nil {
		s.loginHook.OnLogin(ctx, u.ID, now)
	}
	s.logger.Info("user logged in", "user_id", u.ID)
	return token, u.ID, nil
}

// ValidateSession checks a token and advances its activity clock. Unknown,
// inactive and idle-expired tokens all surface as SESSION_EXPIRED.
func (s *Service) ValidateSession(ctx context.Context, token string) (*types.Session, error) {
	sess, err := s.store.SessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.Errf(protocol.CodeSessionExpired, "unknown token")
	}
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return nil, protocol.Errf(protocol.CodeSessionExpired, "inactive session")
	}
	now := s.now()
	if now.Sub(sess.LastActivity) > s.sessionTTL {
		return nil, protocol.Errf(protocol.CodeSessionExpired, "idle for %s", now.Sub(sess.LastActivity))
	}
	if err := s.store.TouchSession(ctx, token, now); err != nil {
		return nil, err
	}
	sess.LastActivity = now
	return sess, nil
}

// Logout deletes the session row. Unknown tokens surface as SESSION_EXPIRED.
func (s *Service) Logout(ctx context.Context, token string) error {
	err := s.store.DeleteSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.Errf(protocol.CodeSessionExpired, "unknown token")
	}
	return err
}

// newToken draws 16 random bytes and hex-encodes them to the 32-char
// opaque token format.
func newToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
