package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
)

func testCodec() *TokenCodec {
	return NewTokenCodec("test-secret-that-is-long-enough", "auth", 15*time.Minute, 7*24*time.Hour)
}

func TestTokenCodec_AccessRoundTrip(t *testing.T) {
	codec := testCodec()

	token, expiresAt, err := codec.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := codec.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, domain.RoleUser, claims.Role)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestTokenCodec_RefreshRoundTrip(t *testing.T) {
	codec := testCodec()

	token, _, err := codec.IssueRefresh("user-1", "session-1")
	require.NoError(t, err)

	claims, err := codec.ParseRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
}

func TestTokenCodec_RejectsCrossTypeUse(t *testing.T) {
	codec := testCodec()

	access, _, err := codec.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)
	refresh, _, err := codec.IssueRefresh("user-1", "session-1")
	require.NoError(t, err)

	// A refresh token must never pass as an access token, and vice versa.
	_, err = codec.ParseAccess(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = codec.ParseRefresh(access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_ExpiredIsDistinct(t *testing.T) {
	// Negative TTL beyond the leeway window forces immediate expiry.
	codec := NewTokenCodec("test-secret-that-is-long-enough", "auth", -2*time.Minute, 7*24*time.Hour)

	token, _, err := codec.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)

	_, err = codec.ParseAccess(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_LeewayWindow(t *testing.T) {
	// A couple of seconds past expiry is tolerated as clock skew; anything
	// beyond the window is reported expired.
	within := NewTokenCodec("test-secret-that-is-long-enough", "auth", -2*time.Second, 7*24*time.Hour)
	token, _, err := within.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)
	_, err = within.ParseAccess(token)
	assert.NoError(t, err)

	beyond := NewTokenCodec("test-secret-that-is-long-enough", "auth", -10*time.Second, 7*24*time.Hour)
	token, _, err = beyond.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)
	_, err = beyond.ParseAccess(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_RejectsTamperedToken(t *testing.T) {
	codec := testCodec()

	token, _, err := codec.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = codec.ParseAccess(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_RejectsWrongSecret(t *testing.T) {
	codec := testCodec()
	other := NewTokenCodec("a-completely-different-secret!!", "auth", 15*time.Minute, 7*24*time.Hour)

	token, _, err := other.IssueAccess("user-1", domain.RoleUser)
	require.NoError(t, err)

	_, err = codec.ParseAccess(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestHashToken_Deterministic(t *testing.T) {
	h1 := HashToken("some-refresh-token")
	h2 := HashToken("some-refresh-token")
	h3 := HashToken("another-token")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
