package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	apiKeyPrefix = "ak_"
	keyIDBytes   = 8
	secretBytes  = 32
	// keyIDLen is len("ak_") plus 16 hex characters.
	keyIDLen = len(apiKeyPrefix) + keyIDBytes*2
)

var apiKeyPattern = regexp.MustCompile(`^ak_[a-f0-9]{16}_[a-f0-9]{64}$`)

// GeneratedKey is a freshly minted API key. FullKey must be handed to the
// caller once and then dropped; only KeyID and Hash are persisted.
type GeneratedKey struct {
	KeyID   string
	FullKey string
	Hash    string
}

// GenerateKey mints ak_<16 hex>_<64 hex> from crypto/rand.
func GenerateKey() (GeneratedKey, error) {
	buf := make([]byte, keyIDBytes+secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedKey{}, fmt.Errorf("generate api key: %w", err)
	}
	keyID := apiKeyPrefix + hex.EncodeToString(buf[:keyIDBytes])
	fullKey := keyID + "_" + hex.EncodeToString(buf[keyIDBytes:])
	return GeneratedKey{KeyID: keyID, FullKey: fullKey, Hash: HashKey(fullKey)}, nil
}

// HashKey returns the hex sha256 of the entire presented key.
func HashKey(fullKey string) string {
	sum := sha256.Sum256([]byte(fullKey))
	return hex.EncodeToString(sum[:])
}

// ParseKeyID checks the exact key shape and returns its public key id.
func ParseKeyID(presented string) (string, error) {
	if !apiKeyPattern.MatchString(presented) {
		return "", &ValidationError{Reason: ReasonMalformedCredential, Message: "malformed api key"}
	}
	return presented[:keyIDLen], nil
}

// LooksLikeAPIKey reports whether a bearer value should take the API key path.
func LooksLikeAPIKey(v string) bool {
	return strings.HasPrefix(v, apiKeyPrefix)
}

func hashesEqual(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(stored)) == 1
}
