package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims carries the operator identity inside a signed token.
type Claims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds the operator authentication settings.
type Config struct {
	Secret       string        `json:"secret"`
	PasswordHash string        `json:"password_hash"`
	TokenTTL     time.Duration `json:"token_ttl"`
}

// DefaultConfig returns auth settings with an 8 hour token lifetime.
// Secret and PasswordHash must be provided by deployment config.
func DefaultConfig() Config {
	return Config{TokenTTL: 8 * time.Hour}
}

// Manager issues and validates operator tokens for the control API.
type Manager struct {
	secret       []byte
	passwordHash string
	tokenTTL     time.Duration
}

// NewManager creates a token manager. An empty secret disables token
// issuance and every validation fails.
func NewManager(cfg Config) *Manager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Manager{
		secret:       []byte(cfg.Secret),
		passwordHash: cfg.PasswordHash,
		tokenTTL:     ttl,
	}
}

// Login verifies the operator password and returns a signed token.
func (m *Manager) Login(operator, password string) (string, error) {
	if m.passwordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return m.GenerateToken(operator, "operator")
}

// GenerateToken signs a token for the given operator and role.
func (m *Manager) GenerateToken(operator, role string) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			Issuer:    "smc-trading-engine",
			Audience:  []string{"smc-trading-engine-api"},
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a signed token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenTTL returns the configured token lifetime.
func (m *Manager) TokenTTL() time.Duration {
	return m.tokenTTL
}

// HashPassword hashes an operator password for storage in config.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}
