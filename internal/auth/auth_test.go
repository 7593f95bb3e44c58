package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/store"
)

var alice = store.User{ID: 42, Username: "alice"}

func TestIssueAndVerify(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.Issue(alice, time.Hour)
	require.NoError(t, err)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestVerifyRejects(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	other := NewAuthenticator([]byte("other"))

	forged, err := other.Issue(alice, time.Hour)
	require.NoError(t, err)
	expired, err := a.Issue(alice, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong key": forged,
		"expired":   expired,
		"alg none":  none,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestFromRequest(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	token, err := a.Issue(alice, time.Hour)
	require.NoError(t, err)

	header := httptest.NewRequest(http.MethodGet, "/", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	query := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	for name, r := range map[string]*http.Request{"header": header, "query": query, "cookie": cookie} {
		t.Run(name, func(t *testing.T) {
			got, err := a.FromRequest(r)
			require.NoError(t, err)
			assert.Equal(t, alice, got)
		})
	}

	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.Header.Set("Authorization", "Basic abc")
	_, err = a.FromRequest(basic)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = a.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, alice, user)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := a.Issue(alice, time.Hour)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
