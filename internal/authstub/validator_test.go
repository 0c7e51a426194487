package authstub

import (
	"testing"
	"time"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	v := New("test-secret")
	token, err := v.IssueForTesting("user-1", "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueForTesting: %v", err)
	}

	claims, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	v := New("test-secret")
	token, err := v.IssueForTesting("user-1", "user@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("IssueForTesting: %v", err)
	}
	if _, err := v.ValidateToken(token); err == nil {
		t.Fatal("expected an error for an expired token")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := New("secret-a")
	verifier := New("secret-b")

	token, err := issuer.IssueForTesting("user-1", "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueForTesting: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected an error for a token signed with a different secret")
	}
}

func TestFromHeader(t *testing.T) {
	v := New("test-secret")
	token, err := v.IssueForTesting("user-1", "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueForTesting: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"missing", "", ErrMissingHeader},
		{"malformed", token, ErrMalformed},
		{"empty bearer", "Bearer ", ErrMalformed},
		{"valid", "Bearer " + token, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := v.FromHeader(tc.header)
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.UserID != "user-1" {
				t.Fatalf("unexpected claims: %+v", claims)
			}
		})
	}
}
