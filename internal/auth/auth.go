// Package auth is the identity provider in front of the engine: it turns a
// signed JWT into the user a connection acts as.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"collabtext/internal/store"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// CookieName is checked when neither the Authorization header nor the token
// query parameter is present. Browsers cannot set headers on websockets.
const CookieName = "collabtext_token"

// Claims carry the user id in the subject and the display name alongside.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret, issuer: "collabtext", now: time.Now}
}

// Issue signs a token for user valid for ttl.
func (a *Authenticator) Issue(user store.User, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   strconv.FormatInt(int64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature and expiry of token and returns its user.
func (a *Authenticator) Verify(token string) (store.User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: bad subject %q", ErrUnauthenticated, claims.Subject)
	}
	return store.User{ID: store.UserID(id), Username: claims.Username}, nil
}

// FromRequest authenticates r using, in order, a bearer token, the token
// query parameter and the token cookie.
func (a *Authenticator) FromRequest(r *http.Request) (store.User, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return store.User{}, fmt.Errorf("%w: unsupported authorization scheme", ErrUnauthenticated)
		}
		return a.Verify(token)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return a.Verify(token)
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return a.Verify(c.Value)
	}
	return store.User{}, fmt.Errorf("%w: no token", ErrUnauthenticated)
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// in the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.FromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

type userKey struct{}

func WithUser(ctx context.Context, user store.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (store.User, bool) {
	user, ok := ctx.Value(userKey{}).(store.User)
	return user, ok
}
