package auth

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *LinkSigner {
	t.Helper()
	s, err := NewLinkSigner("test-key", nil, "https://status.example.com")
	require.NoError(t, err)
	return s
}

func TestLinkSignerRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	sig := s.Sign("tok-abc", 1)

	assert.True(t, s.Verify("tok-abc", 1, sig))
	assert.Equal(t, 1, s.VerifiedLevel("tok-abc", 1, sig))
}

func TestLinkSignerRejectsLevelTampering(t *testing.T) {
	s := newTestSigner(t)
	sig := s.Sign("tok-abc", 1)

	assert.False(t, s.Verify("tok-abc", 2, sig))
	assert.False(t, s.Verify("tok-abc", 3, sig))
	assert.Equal(t, 0, s.VerifiedLevel("tok-abc", 3, sig))
}

func TestLinkSignerRejectsOtherTokensAndGarbage(t *testing.T) {
	s := newTestSigner(t)
	sig := s.Sign("tok-abc", 1)

	assert.False(t, s.Verify("tok-xyz", 1, sig))
	assert.False(t, s.Verify("tok-abc", 1, ""))
	assert.False(t, s.Verify("tok-abc", 1, "not-hex"))
	assert.False(t, s.Verify("tok-abc", 1, sig[:10]))
	assert.False(t, s.Verify("tok-abc", 0, sig))
	assert.False(t, s.Verify("tok-abc", 4, s.Sign("tok-abc", 4)))
}

func TestLinkSignerDifferentKeysDisagree(t *testing.T) {
	a := newTestSigner(t)
	b, err := NewLinkSigner("other-key", nil, "")
	require.NoError(t, err)

	assert.False(t, b.Verify("tok", 1, a.Sign("tok", 1)))
}

func TestLinkSignerAcceptsPreviousKeys(t *testing.T) {
	old, err := NewLinkSigner("old-key", nil, "")
	require.NoError(t, err)
	rotated, err := NewLinkSigner("new-key", []string{"old-key"}, "")
	require.NoError(t, err)

	oldSig := old.Sign("tok", 2)
	assert.True(t, rotated.Verify("tok", 2, oldSig))
	assert.NotEqual(t, oldSig, rotated.Sign("tok", 2))
	assert.False(t, old.Verify("tok", 2, rotated.Sign("tok", 2)))
}

func TestLinkSignerRequiresSecret(t *testing.T) {
	_, err := NewLinkSigner("", nil, "")
	assert.Error(t, err)
}

func TestLinkCarriesLevelAndSignature(t *testing.T) {
	s := newTestSigner(t)
	link := s.Link("tok-abc", 2)

	require.True(t, strings.HasPrefix(link, "https://status.example.com/issues/tok-abc?"))
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "2", parsed.Query().Get("level"))
	assert.True(t, s.Verify("tok-abc", 2, parsed.Query().Get("signature")))
}
