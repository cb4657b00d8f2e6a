package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestWithUserAndFromContext(t *testing.T) {
	ctx := WithUser(context.Background(), User{ID: 42})
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected User in context")
	}
	if got.ID != 42 {
		t.Errorf("ID = %d, want 42", got.ID)
	}
	if UserID(ctx) != 42 {
		t.Errorf("UserID = %d, want 42", UserID(ctx))
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected no User in empty context")
	}
	if got := UserID(context.Background()); got != 0 {
		t.Errorf("UserID = %d, want 0", got)
	}
}

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue(17, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	u, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.ID != 17 {
		t.Errorf("ID = %d, want 17", u.ID)
	}
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier("test-secret")

	expired, _ := v.Issue(1, -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired token: error = %v", err)
	}

	foreign, _ := NewVerifier("other-secret").Issue(1, time.Hour)
	if _, err := v.Verify(foreign); !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		t.Errorf("wrong secret: error = %v", err)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("test-secret"))
	if _, err := v.Verify(noExp); err == nil {
		t.Error("expected error for token without exp")
	}

	badSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if _, err := v.Verify(badSub); !errors.Is(err, jwt.ErrTokenInvalidClaims) {
		t.Errorf("non-numeric subject: error = %v", err)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer header", http.MethodPost, "/", "Bearer abc", "abc", false},
		{"lowercase scheme", http.MethodPost, "/", "bearer abc", "abc", false},
		{"basic scheme", http.MethodPost, "/", "Basic abc", "", true},
		{"no header", http.MethodPost, "/", "", "", true},
		{"query on GET", http.MethodGet, "/ws?access_token=xyz", "", "xyz", false},
		{"query ignored on POST", http.MethodPost, "/x?access_token=xyz", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractToken(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}
