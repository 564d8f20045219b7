package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

type memUsers struct {
	byName map[string][2]string
}

func (m *memUsers) CreateUser(_ context.Context, username, hash, _ string) (string, error) {
	if _, ok := m.byName[username]; ok {
		return "", ErrUserExists
	}
	id := "user-" + username
	m.byName[username] = [2]string{id, hash}
	return id, nil
}

func (m *memUsers) UserCredentials(_ context.Context, username string) (string, string, error) {
	u, ok := m.byName[username]
	if !ok {
		return "", "", errors.New("no such user")
	}
	return u[0], u[1], nil
}

func newModule(t *testing.T) (*AuthModule, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewAuthModule(&memUsers{byName: map[string][2]string{}}, client, "secret", time.Hour), mr
}

func TestRegisterLoginValidate(t *testing.T) {
	a, _ := newModule(t)
	ctx := context.Background()

	token, err := a.RegisterWithJWT(ctx, "gardener", "hunter2", "g@example.com")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := a.ValidateTokenJWT(ctx, token)
	if err != nil || userID != "user-gardener" {
		t.Fatalf("validate: %q %v", userID, err)
	}

	if _, err := a.LoginWithJWT(ctx, "gardener", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", err)
	}
	if _, err := a.LoginWithJWT(ctx, "nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: %v", err)
	}
	if _, err := a.LoginWithJWT(ctx, "gardener", "hunter2"); err != nil {
		t.Errorf("login: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	a, _ := newModule(t)
	ctx := context.Background()

	if _, err := a.ValidateTokenJWT(ctx, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: %v", err)
	}

	other := NewAuthModule(nil, nil, "other-secret", time.Hour)
	foreign, _ := other.GenerateJWT("user-1")
	if _, err := a.ValidateTokenJWT(ctx, foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign signature: %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := a.GenerateJWT("user-1")
	a.now = time.Now
	if _, err := a.ValidateTokenJWT(ctx, expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := a.ValidateTokenJWT(ctx, unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unsigned: %v", err)
	}
}

func TestLogoutRevokes(t *testing.T) {
	a, mr := newModule(t)
	ctx := context.Background()

	token, _ := a.GenerateJWT("user-1")
	if err := a.LogoutJWT(ctx, token); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateTokenJWT(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoked token accepted: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("keys %v", mr.Keys())
	}
	if ttl := mr.TTL(mr.Keys()[0]); ttl <= 0 || ttl > time.Hour {
		t.Errorf("revocation ttl %v", ttl)
	}
}

func TestDeviceKeys(t *testing.T) {
	key, hash, err := GenerateDeviceKey()
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyDeviceKey(hash, key) {
		t.Error("generated key does not verify")
	}
	if VerifyDeviceKey(hash, key+"x") {
		t.Error("wrong key verified")
	}
	if VerifyDeviceKey("", key) || VerifyDeviceKey(hash, "") {
		t.Error("empty input verified")
	}
}
