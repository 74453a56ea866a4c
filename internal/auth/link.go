package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// LinkSigner mints and verifies level-scoped signatures for public issue links.
// Keys are fixed at construction; rotation keeps old keys verify-only.
type LinkSigner struct {
	current  []byte
	previous [][]byte
	baseURL  string
}

// NewLinkSigner builds a signer. previous keys are accepted for verification only.
func NewLinkSigner(secret string, previous []string, baseURL string) (*LinkSigner, error) {
	if secret == "" {
		return nil, errors.New("link signing secret required")
	}
	s := &LinkSigner{current: []byte(secret), baseURL: baseURL}
	for _, p := range previous {
		if p == "" || p == secret {
			continue
		}
		s.previous = append(s.previous, []byte(p))
	}
	return s, nil
}

// Sign returns the hex HMAC-SHA256 binding token to level.
func (s *LinkSigner) Sign(token string, level int) string {
	return hex.EncodeToString(signLink(s.current, token, level))
}

// Verify checks signature against (token, level) in constant time.
func (s *LinkSigner) Verify(token string, level int, signature string) bool {
	if token == "" || signature == "" || level < 1 || level > domain.MaxLevels {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil || len(given) != sha256.Size {
		return false
	}
	if hmac.Equal(given, signLink(s.current, token, level)) {
		return true
	}
	for _, key := range s.previous {
		if hmac.Equal(given, signLink(key, token, level)) {
			return true
		}
	}
	return false
}

// VerifiedLevel returns level when the signature holds, or 0 for read-only access.
func (s *LinkSigner) VerifiedLevel(token string, level int, signature string) int {
	if s.Verify(token, level, signature) {
		return level
	}
	return 0
}

// Link renders the public URL handed to the level's contact.
func (s *LinkSigner) Link(token string, level int) string {
	q := url.Values{}
	q.Set("level", strconv.Itoa(level))
	q.Set("signature", s.Sign(token, level))
	return fmt.Sprintf("%s/issues/%s?%s", s.baseURL, url.PathEscape(token), q.Encode())
}

func signLink(key []byte, token string, level int) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(token + ":" + strconv.Itoa(level)))
	return mac.Sum(nil)
}
