// Package license issues premium license keys after a paid checkout.
//
// A key is GM- followed by six groups of four upper-case hex digits. Keys
// are derived from the checkout session with a keyed BLAKE2b so verifying
// the same session twice yields the same key; only its hash is stored.
package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/unclip/horosafe"
)

// KeyPrefix starts every license key.
const KeyPrefix = "GM-"

const (
	keyGroups    = 6
	keyGroupSize = 4
)

var keyPattern = regexp.MustCompile(`^GM-[0-9A-F]{4}(-[0-9A-F]{4}){5}$`)

// ValidKey reports whether s has the license key format.
func ValidKey(s string) bool { return keyPattern.MatchString(s) }

// HashKey returns the stored form of a key: hex BLAKE2b-256.
func HashKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewKey returns a random key.
func NewKey() (string, error) {
	b := make([]byte, keyGroups*keyGroupSize/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("license: random: %w", err)
	}
	return formatKey(b), nil
}

// Issuer derives keys from checkout session ids.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer. The secret must be at least
// horosafe.MinSecretLen bytes; longer secrets are hashed to 64 bytes.
func NewIssuer(secret []byte) (*Issuer, error) {
	if err := horosafe.ValidateSecret(secret); err != nil {
		return nil, fmt.Errorf("license: %w", err)
	}
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum512(secret)
		secret = sum[:]
	}
	return &Issuer{secret: secret}, nil
}

// RandomSecret returns a fresh secret for an Issuer. Keys derived from it
// cannot be reproduced after a restart.
func RandomSecret() ([]byte, error) {
	b := make([]byte, horosafe.MinSecretLen)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("license: random: %w", err)
	}
	return b, nil
}

// Key returns the key for a checkout session.
func (is *Issuer) Key(sessionID string) string {
	h, _ := blake2b.New256(is.secret)
	h.Write([]byte(sessionID))
	return formatKey(h.Sum(nil)[:keyGroups*keyGroupSize/2])
}

func formatKey(b []byte) string {
	hx := strings.ToUpper(hex.EncodeToString(b))
	groups := make([]string, keyGroups)
	for i := range groups {
		groups[i] = hx[i*keyGroupSize : (i+1)*keyGroupSize]
	}
	return KeyPrefix + strings.Join(groups, "-")
}
