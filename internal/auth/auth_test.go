package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/protocol"
	"skintrade/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc := New(st, NewRollingHasher(), nil, time.Hour, decimal.NewFromInt(100), logger)
	return svc, st
}

func wantCode(t *testing.T, err error, code protocol.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := protocol.CodeOf(err); got != code {
		t.Fatalf("code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	u, err := st.UserByID(ctx, id)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if !u.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("starting balance = %s, want 100", u.Balance)
	}
	if u.PasswordDigest == "hunter22" {
		t.Fatal("password stored in the clear")
	}

	token, userID, err := svc.Login(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if userID != id {
		t.Fatalf("login user id = %d, want %d", userID, id)
	}
	if len(token) != 32 {
		t.Fatalf("token length = %d, want 32", len(token))
	}

	sess, err := svc.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if sess.UserID != id {
		t.Fatalf("session user = %d, want %d", sess.UserID, id)
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	wantCode(t, mustErr(svc.ValidateSession(ctx, token)), protocol.CodeSessionExpired)
}

func mustErr[T any](_ T, err error) error { return err }

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "alice", "different1")
	wantCode(t, err, protocol.CodeUserExists)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct{ username, password string }{
		{"ab", "hunter22"},  // username too short
		{"alice", "short"},  // password too short
		{string(make([]byte, 32)), "hunter22"}, // username too long
	}
	for _, c := range cases {
		_, err := svc.Register(ctx, c.username, c.password)
		wantCode(t, err, protocol.CodeInvalidCredentials)
	}
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, err := svc.Login(ctx, "alice", "wrongpass")
	wantCode(t, err, protocol.CodeInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	wantCode(t, err, protocol.CodeInvalidCredentials)
}

func TestSessionIdleExpiry(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.Register(ctx, "alice", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Activity within the TTL keeps the session alive and slides the window.
	now = now.Add(50 * time.Minute)
	if _, err := svc.ValidateSession(ctx, token); err != nil {
		t.Fatalf("ValidateSession at 50m: %v", err)
	}
	now = now.Add(50 * time.Minute)
	if _, err := svc.ValidateSession(ctx, token); err != nil {
		t.Fatalf("ValidateSession at 100m: %v", err)
	}

	// Over an hour idle: expired.
	now = now.Add(61 * time.Minute)
	_, err = svc.ValidateSession(ctx, token)
	wantCode(t, err, protocol.CodeSessionExpired)
}

func TestRollingHasher(t *testing.T) {
	t.Parallel()
	h := NewRollingHasher()

	a := h.Hash("hunter22")
	if a != h.Hash("hunter22") {
		t.Fatal("hash not deterministic")
	}
	if a == h.Hash("hunter23") {
		t.Fatal("distinct inputs collided")
	}
	if !h.Verify("hunter22", a) {
		t.Fatal("Verify rejected the right password")
	}
	if h.Verify("hunter23", a) {
		t.Fatal("Verify accepted the wrong password")
	}
}
