package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParse(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	signed, err := tokens.Generate("user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	userID, err := tokens.Parse("Bearer " + signed)
	if err != nil || userID != "user-1" {
		t.Fatalf("parse: %q %v", userID, err)
	}

	if _, err := NewTokens("other", time.Hour).Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	tokens.nowFn = func() time.Time { return issued }
	signed, _ := tokens.Generate("user-1")

	tokens.nowFn = time.Now
	if _, err := tokens.Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"user_id": "user-1"})
	signed, _ := token.SignedString([]byte("secret"))

	if _, err := NewTokens("secret", 0).Parse(signed); err != ErrInvalidToken {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokens("secret", 0)

	r := gin.New()
	r.GET("/me", tokens.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", w.Code)
	}

	signed, _ := tokens.Generate("user-7")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "user-7" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}
