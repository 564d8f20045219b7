package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserExists         = errors.New("username already exists")
)

// UserStore persists operator accounts
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, email string) (string, error)
	UserCredentials(ctx context.Context, username string) (id, passwordHash string, err error)
}

type AuthModule struct {
	users     UserStore
	redis     redis.UniversalClient
	JWTSecret string
	TTL       time.Duration
	now       func() time.Time
}

// NewAuthModule creates the auth module. redisClient may be nil, in which
// case logout cannot revoke tokens before they expire.
func NewAuthModule(users UserStore, redisClient redis.UniversalClient, JWTSecret string, ttl time.Duration) *AuthModule {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthModule{
		users:     users,
		redis:     redisClient,
		JWTSecret: JWTSecret,
		TTL:       ttl,
		now:       time.Now,
	}
}

func generateSecureToken(length int) (string, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(randomBytes), nil
}

// GenerateJWT issues an operator token for userID
func (a *AuthModule) GenerateJWT(userID string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

func (a *AuthModule) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateTokenJWT returns the user id of a valid, unrevoked token
func (a *AuthModule) ValidateTokenJWT(ctx context.Context, token string) (string, error) {
	claims, err := a.parse(token)
	if err != nil {
		return "", err
	}
	if a.redis != nil && claims.ID != "" {
		n, err := a.redis.Exists(ctx, revokedKey(claims.ID)).Result()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return "", ErrInvalidToken
		}
	}
	return claims.Subject, nil
}

// LogoutJWT revokes token until it would have expired
func (a *AuthModule) LogoutJWT(ctx context.Context, token string) error {
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	if a.redis == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	return a.redis.Set(ctx, revokedKey(claims.ID), 1, ttl).Err()
}

func revokedKey(id string) string {
	return "auth:revoked:" + id
}

// RegisterWithJWT creates an operator account and returns a token for it
func (a *AuthModule) RegisterWithJWT(ctx context.Context, username, password, email string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	userID, err := a.users.CreateUser(ctx, username, string(hashedPassword), email)
	if err != nil {
		return "", err
	}
	return a.GenerateJWT(userID)
}

// LoginWithJWT checks credentials and returns a token
func (a *AuthModule) LoginWithJWT(ctx context.Context, username, password string) (string, error) {
	userID, passwordHash, err := a.users.UserCredentials(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.GenerateJWT(userID)
}

// GenerateDeviceKey returns a new device api key and its bcrypt hash
func GenerateDeviceKey() (key, hash string, err error) {
	key, err = generateSecureToken(24)
	if err != nil {
		return "", "", err
	}
	hash, err = HashDeviceKey(key)
	return key, hash, err
}

// HashDeviceKey hashes a device api key for storage
func HashDeviceKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyDeviceKey reports whether key matches the stored hash
func VerifyDeviceKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
