package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testManager() *Manager {
	return NewManager(Config{Secret: "test-secret", TokenTTL: time.Hour})
}

func TestTokenRoundTrip(t *testing.T) {
	m := testManager()

	token, err := m.GenerateToken("ops", "operator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Operator != "ops" || claims.Role != "operator" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := testManager().GenerateToken("ops", "operator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewManager(Config{Secret: "other-secret", TokenTTL: time.Hour})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	m := NewManager(Config{Secret: "test-secret", TokenTTL: time.Millisecond})

	token, err := m.GenerateToken("ops", "operator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	hash, err := HashPassword("Str0ng-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := NewManager(Config{Secret: "test-secret", PasswordHash: hash, TokenTTL: time.Hour})

	token, err := m.Login("ops", "Str0ng-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ValidateToken(token); err != nil {
		t.Errorf("issued token failed validation: %v", err)
	}

	if _, err := m.Login("ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginWithoutHash(t *testing.T) {
	if _, err := testManager().Login("ops", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testManager()

	router := gin.New()
	router.GET("/protected", Middleware(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": Operator(c)})
	})

	// No header.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Malformed header.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic abc")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Valid token.
	token, err := m.GenerateToken("ops", "operator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
