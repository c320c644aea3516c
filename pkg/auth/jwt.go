package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
	ErrMissingBearer = errors.New("missing bearer token")
	ErrNotPermitted  = errors.New("role not permitted")
)

// Valid roles
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// DefaultTokenDuration is the lifetime of tokens issued by the CLI
const DefaultTokenDuration = 24 * time.Hour

// Issuer is stamped into every token and required on validation
const Issuer = "clusterstore"

var validRoles = map[string]bool{
	RoleAdmin:  true,
	RoleViewer: true,
}

// Claims represents JWT claims
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}

// IsAdmin reports whether the token may mutate state
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// JWTManager manages JWT token generation and validation
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a new JWT manager.
// Returns an error if the secret is shorter than 32 characters.
func NewJWTManager(secret string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if tokenDuration <= 0 {
		tokenDuration = DefaultTokenDuration
	}

	return &JWTManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken generates a new JWT token
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if !validRoles[role] {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  Issuer,
		"sub":  subject,
		"role": role,
		"exp":  now.Add(m.tokenDuration).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims
func (m *JWTManager) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claimsMap, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	subject, err := claimsMap.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing or invalid sub", ErrInvalidClaims)
	}

	role, ok := claimsMap["role"].(string)
	if !ok || !validRoles[role] {
		return nil, fmt.Errorf("%w: missing or invalid role", ErrInvalidClaims)
	}

	claims := &Claims{Subject: subject, Role: role}
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := claimsMap.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	return claims, nil
}

// Authorize validates the bearer token in an Authorization header value and
// checks that it carries one of the given roles.
func (m *JWTManager) Authorize(ctx context.Context, header string, roles ...string) (*Claims, error) {
	tokenString, ok := BearerToken(header)
	if !ok {
		return nil, ErrMissingBearer
	}

	claims, err := m.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	for _, role := range roles {
		if claims.Role == role {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotPermitted, claims.Role)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Name returns the validator name for logging
func (m *JWTManager) Name() string {
	return "jwt-hs256"
}

// GetTokenDuration returns the configured token duration
func (m *JWTManager) GetTokenDuration() time.Duration {
	return m.tokenDuration
}
