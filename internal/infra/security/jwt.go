package security

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainauth "petadopt/internal/domain/auth"
)

// AccessClaims mirrors the access token issued by the account service. The user id may be
// carried in _id, id or sub.
type AccessClaims struct {
	UserID   string `json:"_id,omitempty"`
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Fullname string `json:"fullname,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c AccessClaims) subject() string {
	for _, v := range []string{c.UserID, c.ID, c.Subject} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// HMACVerifier validates HS256 access tokens signed with a shared secret.
type HMACVerifier struct {
	Secret []byte
	Leeway time.Duration
}

var errSecretMissing = errors.New("security: access token secret is not configured")

func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errSecretMissing
	}
	return &HMACVerifier{Secret: []byte(secret)}, nil
}

func (v *HMACVerifier) Verify(ctx context.Context, token domainauth.Token) (*domainauth.Identity, error) {
	raw := domainauth.StripBearer(string(token))
	if raw == "" {
		return nil, domainauth.ErrTokenRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v == nil || len(v.Secret) == 0 {
		return nil, errSecretMissing
	}
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(v.Leeway))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainauth.ErrTokenExpired
		}
		return nil, domainauth.ErrUnauthenticated
	}
	if !parsed.Valid {
		return nil, domainauth.ErrUnauthenticated
	}
	id := claims.subject()
	if id == "" {
		return nil, domainauth.ErrUnauthenticated
	}
	return &domainauth.Identity{
		UserID:   id,
		Username: claims.Username,
		Fullname: claims.Fullname,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}

var _ domainauth.Verifier = (*HMACVerifier)(nil)

// SignAccessToken issues an HS256 token for the given identity. Only tests and local tooling
// mint tokens; production tokens come from the account service.
func SignAccessToken(secret string, id domainauth.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:   id.UserID,
		Username: id.Username,
		Fullname: id.Fullname,
		Email:    id.Email,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
