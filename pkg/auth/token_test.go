package auth

import (
	"encoding/base64"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != TokenLength {
		t.Errorf("decoded token length = %d, want %d", len(raw), TokenLength)
	}

	// SHA256 = 64 hex chars
	if len(tokenHash) != 64 {
		t.Errorf("tokenHash length = %d, want 64", len(tokenHash))
	}
	if tokenHash != HashToken(token) {
		t.Error("returned hash does not match HashToken(token)")
	}
}

func TestGenerateToken_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashToken("abc"); got != want {
		t.Errorf("HashToken() = %s, want %s", got, want)
	}
}

func TestRole_IsStaff(t *testing.T) {
	tests := map[Role]bool{
		RoleReader: false,
		RoleStaff:  true,
		RoleAdmin:  true,
		Role(""):   false,
	}
	for role, want := range tests {
		if got := role.IsStaff(); got != want {
			t.Errorf("%q.IsStaff() = %v, want %v", role, got, want)
		}
	}
}
