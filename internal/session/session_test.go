package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signedToken(t, "user-42", exp)

	id, err := ParseToken("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)
	assert.Equal(t, tok, id.AccessToken)
	assert.True(t, id.ExpiresAt.Equal(exp))

	_, err = ParseToken("")
	assert.Error(t, err)
	_, err = ParseToken("not-a-jwt")
	assert.Error(t, err)
	_, err = ParseToken(signedToken(t, "", time.Time{}))
	assert.Error(t, err, "subject is required")
}

func TestSession_CurrentHonoursExpiry(t *testing.T) {
	s := New()
	_, ok := s.Current()
	assert.False(t, ok, "new session is signed out")

	now := time.Now()
	s.now = func() time.Time { return now }
	s.Set(Identity{UserID: "u", ExpiresAt: now.Add(time.Minute)})
	_, ok = s.Current()
	assert.True(t, ok)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = s.Current()
	assert.False(t, ok, "expired identity counts as absent")
}

func TestSession_SetTokenRejectsExpired(t *testing.T) {
	s := New()
	_, err := s.SetToken(signedToken(t, "u", time.Now().Add(-time.Minute)))
	assert.Error(t, err)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSession_Subscribe(t *testing.T) {
	s := New()
	ch, unsubscribe := s.Subscribe()

	s.Set(Identity{UserID: "u"})
	s.Clear()

	c := <-ch
	assert.True(t, c.SignedIn)
	assert.Equal(t, "u", c.Identity.UserID)
	c = <-ch
	assert.False(t, c.SignedIn)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	s.Set(Identity{UserID: "v"}) // must not panic on a closed subscriber
}

func TestLoadTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(signedToken(t, "file-user", time.Time{})+"\n"), 0o600))

	s := New()
	id, err := LoadTokenFile(s, path)
	require.NoError(t, err)
	assert.Equal(t, "file-user", id.UserID)

	_, err = LoadTokenFile(s, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
