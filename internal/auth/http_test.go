// ABOUTME: Tests for the bearer-token HTTP middleware
// ABOUTME: Covers missing, malformed, expired and valid tokens

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestHTTPAuthMiddleware_NilVerifierPassesThrough(t *testing.T) {
	next, called := okHandler()
	handler := HTTPAuthMiddleware(nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/sessions/a/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !*called {
		t.Error("next handler was not called")
	}
}

func TestHTTPAuthMiddleware_MissingHeader(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	next, called := okHandler()
	handler := HTTPAuthMiddleware(verifier)(next)

	req := httptest.NewRequest(http.MethodGet, "/sessions/a/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if *called {
		t.Error("next handler should not run without a token")
	}
}

func TestHTTPAuthMiddleware_MalformedHeader(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	next, _ := okHandler()
	handler := HTTPAuthMiddleware(verifier)(next)

	for _, header := range []string{"Basic abc", "Bearer ", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestHTTPAuthMiddleware_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("client-1", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	next, _ := okHandler()
	handler := HTTPAuthMiddleware(verifier)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("client-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	next, called := okHandler()
	handler := HTTPAuthMiddleware(verifier)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !*called {
		t.Error("next handler was not called")
	}
}
