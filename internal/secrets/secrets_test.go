package secrets

import (
	"errors"
	"testing"
)

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	box, err := New("correct horse battery staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, plain := range []string{"sk-or-v1-abc123", "", "unicode ключ 🔑"} {
		token, err := box.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		got, err := box.Decrypt(token)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("roundtrip = %q, want %q", got, plain)
		}
	}
}

func TestEncrypt_FreshTokens(t *testing.T) {
	box, _ := New("pass")
	a, err := box.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := box.Encrypt("same input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same input produced identical tokens")
	}
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	box, _ := New("right")
	token, err := box.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	other, _ := New("wrong")
	if _, err := other.Decrypt(token); !errors.Is(err, ErrDecrypt) {
		t.Errorf("error = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_GarbageInput(t *testing.T) {
	box, _ := New("pass")
	for _, token := range []string{"", "not-base64!!!", "YWJj"} {
		if _, err := box.Decrypt(token); !errors.Is(err, ErrDecrypt) {
			t.Errorf("Decrypt(%q) error = %v, want ErrDecrypt", token, err)
		}
	}
}

func TestNew_EmptyPassphrase(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}
