package secret

import (
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T, pass string) *Cipher {
	t.Helper()
	c, err := NewCipher(pass, "filedesk-test", 1000)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestSealOpen(t *testing.T) {
	c := newTestCipher(t, "correct horse")

	sealed, err := c.Seal("ya29.access-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") {
		t.Fatalf("sealed value missing version prefix: %q", sealed)
	}
	if strings.Contains(sealed, "ya29") {
		t.Fatal("sealed value leaks plaintext")
	}

	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "ya29.access-token" {
		t.Fatalf("Open() = %q", plain)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c := newTestCipher(t, "pass")
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a == b {
		t.Fatal("expected distinct ciphertexts for repeated Seal")
	}
}

func TestOpenRejectsWrongKeyAndGarbage(t *testing.T) {
	sealed, err := newTestCipher(t, "one").Seal("token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	other := newTestCipher(t, "two")

	for _, in := range []string{sealed, "v1:!!!", "plain-token", "v1:AAAA"} {
		if _, err := other.Open(in); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("Open(%q) error = %v, want ErrDecrypt", in, err)
		}
	}
}

func TestEmptyRoundTrip(t *testing.T) {
	c := newTestCipher(t, "pass")
	sealed, err := c.Seal("")
	if err != nil || sealed != "" {
		t.Fatalf("Seal(\"\") = %q, %v", sealed, err)
	}
	plain, err := c.Open("")
	if err != nil || plain != "" {
		t.Fatalf("Open(\"\") = %q, %v", plain, err)
	}
}

func TestNewCipherRequiresPassphrase(t *testing.T) {
	if _, err := NewCipher("", "salt", 1); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}
