package security

import (
	"strings"
	"testing"

	"tradengine/src/model"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sealed, err := EncryptString("super-secret-api-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(sealed, "super-secret") {
		t.Fatal("sealed output leaks plaintext")
	}

	plain, err := DecryptString(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "super-secret-api-key" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	a, err := EncryptString("same-input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := EncryptString("same-input")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("nonces must make identical inputs seal differently")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	sealed, err := EncryptString("credential")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := DecryptString("not base64!!"); err == nil {
		t.Fatal("expected error for invalid encoding")
	}
	if _, err := DecryptString(sealed[:len(sealed)-8] + "AAAAAAA="); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestOpenCredentials(t *testing.T) {
	key, _ := EncryptString("key-1")
	secret, _ := EncryptString("secret-1")
	passphrase, _ := EncryptString("phrase-1")

	sub := &model.Subscription{
		APIKeySealed:        key,
		APISecretSealed:     secret,
		APIPassphraseSealed: passphrase,
	}
	creds, err := OpenCredentials(sub)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if creds.APIKey != "key-1" || creds.APISecret != "secret-1" || creds.Passphrase != "phrase-1" {
		t.Fatalf("unexpected credentials %+v", creds)
	}

	// Passphrase stays optional.
	sub.APIPassphraseSealed = ""
	creds, err = OpenCredentials(sub)
	if err != nil {
		t.Fatalf("open without passphrase: %v", err)
	}
	if creds.Passphrase != "" {
		t.Fatal("expected empty passphrase")
	}

	sub.APIKeySealed = ""
	if _, err := OpenCredentials(sub); err == nil {
		t.Fatal("expected error for missing key material")
	}
}
