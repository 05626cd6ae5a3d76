package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		if !strings.HasPrefix(key, APIKeyScheme) {
			t.Errorf("key %q has no scheme", key)
		}
		if len(key) != 44 {
			t.Errorf("key length = %d, want 44", len(key))
		}
		if err := ValidateAPIKeyFormat(key); err != nil {
			t.Errorf("generated key is not valid: %v", err)
		}
		if seen[key] {
			t.Fatal("duplicate key generated")
		}
		seen[key] = true
	}
}

func TestValidateAPIKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{"valid", "rsk_" + strings.Repeat("ab", 20), true},
		{"no scheme", "key_" + strings.Repeat("ab", 20), false},
		{"short", "rsk_abcd", false},
		{"not hex", "rsk_" + strings.Repeat("zz", 20), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeyFormat(tt.key)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformedAPIKey) {
				t.Errorf("got %v, want ErrMalformedAPIKey", err)
			}
		})
	}
}

func TestAPIKeyPrefix(t *testing.T) {
	key := "rsk_0123456789abcdef0123456789abcdef01234567"
	prefix, err := APIKeyPrefix(key)
	if err != nil {
		t.Fatalf("APIKeyPrefix failed: %v", err)
	}
	if prefix != "rsk_01234567" {
		t.Errorf("prefix = %q, want rsk_01234567", prefix)
	}
	if _, err := APIKeyPrefix("bad"); !errors.Is(err, ErrMalformedAPIKey) {
		t.Errorf("got %v, want ErrMalformedAPIKey", err)
	}
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	key, _ := GenerateAPIKey()
	other, _ := GenerateAPIKey()

	hash, err := HashAPIKeyWithCost(key, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashAPIKeyWithCost failed: %v", err)
	}
	if hash == key {
		t.Fatal("hash equals key")
	}

	if err := VerifyAPIKey(key, hash); err != nil {
		t.Errorf("VerifyAPIKey(correct) = %v", err)
	}
	if err := VerifyAPIKey(other, hash); !errors.Is(err, ErrAPIKeyMismatch) {
		t.Errorf("VerifyAPIKey(other) = %v, want ErrAPIKeyMismatch", err)
	}
	if err := VerifyAPIKey(key, "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("VerifyAPIKey(bad hash) = %v, want ErrInvalidHash", err)
	}
	if err := VerifyAPIKey(key, ""); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("VerifyAPIKey(empty hash) = %v, want ErrInvalidHash", err)
	}
	if _, err := HashAPIKeyWithCost("plain", bcrypt.MinCost); !errors.Is(err, ErrMalformedAPIKey) {
		t.Errorf("HashAPIKeyWithCost(plain) = %v, want ErrMalformedAPIKey", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("rsk_a")
	if a != Fingerprint("rsk_a") {
		t.Error("fingerprint is not stable")
	}
	if a == Fingerprint("rsk_b") {
		t.Error("different keys share a fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
}
