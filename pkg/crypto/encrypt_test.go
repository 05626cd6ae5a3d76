package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

// TestEncryptDecrypt проверяет шифрование секретов уведомлений
func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)
	tests := []struct {
		name  string
		value string
	}{
		{"phone", "+14155550100"},
		{"slack webhook", "https://hooks.slack.com/services/T000/B000/XXXX"},
		{"empty", ""},
		{"unicode", "тестовое значение"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encrypt(tt.value, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if tt.value != "" && strings.Contains(enc, tt.value) {
				t.Error("ciphertext contains plaintext")
			}
			dec, err := Decrypt(enc, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if dec != tt.value {
				t.Errorf("got %q, want %q", dec, tt.value)
			}
		})
	}
}

// TestEncryptUsesRandomNonce - одинаковый текст дает разный шифротекст
func TestEncryptUsesRandomNonce(t *testing.T) {
	key := testKey(t)
	a, _ := Encrypt("+14155550100", key)
	b, _ := Encrypt("+14155550100", key)
	if a == b {
		t.Error("two encryptions of the same value must differ")
	}
}

func TestEncryptDecryptErrors(t *testing.T) {
	key := testKey(t)
	other := testKey(t)
	enc, _ := Encrypt("secret", key)

	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{"short key encrypt", func() error { _, err := Encrypt("x", key[:16]); return err }, ErrInvalidKeyLength},
		{"short key decrypt", func() error { _, err := Decrypt(enc, key[:16]); return err }, ErrInvalidKeyLength},
		{"wrong key", func() error { _, err := Decrypt(enc, other); return err }, ErrDecryptionFailed},
		{"not base64", func() error { _, err := Decrypt("%%%", key); return err }, ErrInvalidCiphertext},
		{"too short", func() error { _, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("abc")), key); return err }, ErrCiphertextTooShort},
		{"tampered", func() error { _, err := Decrypt(tampered, key); return err }, ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	key := testKey(t)
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(key), false},
		{"base64", base64.StdEncoding.EncodeToString(key), false},
		{"raw 32 bytes", strings.Repeat("k", 32), false},
		{"too short", "short", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyLength) {
					t.Errorf("got %v, want ErrInvalidKeyLength", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey failed: %v", err)
			}
			if len(got) != KeySize {
				t.Errorf("got %d bytes, want %d", len(got), KeySize)
			}
		})
	}
}
