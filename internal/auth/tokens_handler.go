// SPDX-License-Identifier: AGPL-3.0-only
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/domain"
)

var ErrTokenUnreadable = errors.New("stored access token cannot be decrypted")

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

func encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != 32 {
		return nil, nil, errors.New("encryption key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return
}

func decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, ciphertext, nil)
}

// SealToken encrypts accessToken into settings. The token may be a bare
// string or a token response body.
func SealToken(settings *cloudstore.Settings, accessToken string, encryptionKey []byte) error {
	payload, err := normalizeAccessTokenPayload(accessToken)
	if err != nil {
		return err
	}

	ciphertext, nonce, err := encrypt(payload, encryptionKey)
	if err != nil {
		return err
	}

	settings.EncryptedToken = ciphertext
	settings.TokenNonce = nonce
	return nil
}

// OpenToken returns the plaintext access token stored in settings.
func OpenToken(settings *cloudstore.Settings, encryptionKey []byte) (string, error) {
	if !settings.HasToken() {
		return "", domain.ErrMissingToken
	}

	plaintext, err := decrypt(settings.EncryptedToken, settings.TokenNonce, encryptionKey)
	if err != nil {
		return "", ErrTokenUnreadable
	}

	var tr TokenResponse
	if err := json.Unmarshal(plaintext, &tr); err != nil {
		return "", ErrTokenUnreadable
	}

	return tr.AccessToken, nil
}

// SessionFromSettings builds the Graph API session for a user.
func SessionFromSettings(userID string, settings *cloudstore.Settings, encryptionKey []byte, defaultVersion string) (domain.Session, error) {
	token, err := OpenToken(settings, encryptionKey)
	if err != nil {
		return domain.Session{}, err
	}

	version := settings.APIVersion
	if version == "" {
		version = defaultVersion
	}

	return domain.Session{
		UserID:      userID,
		AccessToken: token,
		APIVersion:  version,
	}, nil
}

func normalizeAccessTokenPayload(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("access token is empty")
	}

	var tr TokenResponse
	if err := json.Unmarshal([]byte(input), &tr); err == nil && tr.AccessToken != "" {
		return json.Marshal(tr)
	}

	return json.Marshal(TokenResponse{
		AccessToken: input,
	})
}
