// CREDENTIAL SEALING
// NaCl secretbox over the exchange API credentials stored with each
// subscription. Plaintext keys never touch the database or the logs.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"tradengine/src/connectors"
	"tradengine/src/model"
)

const nonceSize = 24

var ErrSealedCorrupt = errors.New("sealed credential is corrupt or keyed differently")

func secretKey() (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(GetConfig().ExchangeCRKey)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptString seals a plaintext credential. Output is base64 of
// nonce || ciphertext, safe for a text column.
func EncryptString(plain string) (string, error) {
	key, err := secretKey()
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a credential sealed by EncryptString.
func DecryptString(sealed string) (string, error) {
	key, err := secretKey()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed credential: %w", err)
	}
	if len(raw) < nonceSize {
		return "", ErrSealedCorrupt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrSealedCorrupt
	}
	return string(plain), nil
}

// OpenCredentials decrypts a subscription's sealed API credentials. The
// passphrase is optional; only OKX, Bitget and KuCoin carry one.
func OpenCredentials(sub *model.Subscription) (connectors.Credentials, error) {
	if sub.APIKeySealed == "" || sub.APISecretSealed == "" {
		return connectors.Credentials{}, errors.New("no api key/secret set for subscription")
	}

	apiKey, err := DecryptString(sub.APIKeySealed)
	if err != nil {
		return connectors.Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := DecryptString(sub.APISecretSealed)
	if err != nil {
		return connectors.Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}

	creds := connectors.Credentials{APIKey: apiKey, APISecret: apiSecret}
	if sub.APIPassphraseSealed != "" {
		passphrase, err := DecryptString(sub.APIPassphraseSealed)
		if err != nil {
			return connectors.Credentials{}, fmt.Errorf("decrypt api passphrase: %w", err)
		}
		creds.Passphrase = passphrase
	}
	return creds, nil
}
