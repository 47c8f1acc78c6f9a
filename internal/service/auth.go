package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/model"
)

// All three verification failures produce the same 401 to the client; the
// sentinels exist so the request log can record which check failed.
var (
	ErrMissingToken = errors.New("no credential presented")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
	ErrKeyRevoked   = errors.New("machine key revoked")
)

// AuthService verifies the two credential kinds the portal accepts: user
// session JWTs and machine API keys. Verification is pure; it never mutates
// the key store beyond the fire-and-forget last-used stamp.
type AuthService struct {
	store     *config.Store
	jwtSecret []byte
}

// NewAuthService creates an AuthService bound to the portal store.
func NewAuthService(store *config.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
	}
}

// VerifyAPIKey checks the provided raw machine key against stored key hashes
// and resolves it to an identity.
func (s *AuthService) VerifyAPIKey(ctx context.Context, rawKey string) (*model.Identity, error) {
	if rawKey == "" {
		return nil, ErrMissingToken
	}

	key, err := s.store.GetMachineKeyByHash(ctx, config.HashSecret(rawKey))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now()) {
		return nil, ErrExpiredToken
	}

	// Update last used timestamp (fire and forget)
	go s.store.UpdateMachineKeyLastUsed(context.Background(), key.ID)

	return &model.Identity{
		Subject:    key.KeyPrefix,
		Kind:       "machine",
		OrgID:      key.OrgID,
		Permission: model.PermFull,
		ReadOnly:   key.ReadOnly,
	}, nil
}

// VerifyToken verifies a user session JWT and resolves it to an identity.
// The read-only flag stamped into the claims at issuance survives into the
// identity so the authorization gate can deny mutations.
func (s *AuthService) VerifyToken(tokenStr string) (*model.Identity, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return &model.Identity{
		Subject:    claims.Email,
		Kind:       "user",
		UserID:     claims.UserID,
		OrgID:      claims.OrgID,
		Permission: model.ParsePermission(claims.Role),
		ReadOnly:   claims.ReadOnly,
	}, nil
}

// IssueToken creates a signed session JWT for the given user.
func (s *AuthService) IssueToken(u *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID:   u.ID,
		Email:    u.Email,
		OrgID:    u.OrgID,
		Role:     u.Role,
		ReadOnly: u.ReadOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "flowadmin",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// IssueTokenForKey exchanges a verified machine-key identity for a
// short-lived session JWT, mirroring the portal's /auth endpoint.
func (s *AuthService) IssueTokenForKey(id *model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email:    id.Subject,
		OrgID:    id.OrgID,
		Role:     "user",
		ReadOnly: id.ReadOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "flowadmin",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type sessionClaims struct {
	UserID   int64  `json:"user_id,omitempty"`
	Email    string `json:"email"`
	OrgID    int64  `json:"org_id"`
	Role     string `json:"role"`
	ReadOnly bool   `json:"read_only"`
	jwt.RegisteredClaims
}
