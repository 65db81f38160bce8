package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyToken(t *testing.T) {
	token, err := SignToken("test-secret", "acct-1", "id", time.Hour)
	if err != nil {
		t.Fatalf("SignToken error: %v", err)
	}
	claims, err := VerifyToken("test-secret", token)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q, want %q", claims.Subject, "acct-1")
	}
	if claims.Locale != "id" {
		t.Fatalf("locale = %q, want %q", claims.Locale, "id")
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token, err := SignToken("test-secret", "acct-1", "", time.Hour)
	if err != nil {
		t.Fatalf("SignToken error: %v", err)
	}
	if _, err := VerifyToken("other-secret", token); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	token, err := SignToken("test-secret", "acct-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken error: %v", err)
	}
	if _, err := VerifyToken("test-secret", token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	var gotAccount string
	handler := AuthJWT("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed scheme", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid bearer token", func(t *testing.T) {
		token, err := SignToken("test-secret", "acct-42", "", time.Hour)
		if err != nil {
			t.Fatalf("SignToken error: %v", err)
		}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotAccount != "acct-42" {
			t.Fatalf("account id = %q, want %q", gotAccount, "acct-42")
		}
	})
}
