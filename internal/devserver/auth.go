package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chatsync-devserver"

var ErrInvalidToken = errors.New("invalid token")

// Auth issues and verifies HS256 bearer tokens whose subject is a member id.
type Auth struct {
	secret []byte
	now    func() time.Time
}

// NewAuth creates an Auth. An empty secret is rejected.
func NewAuth(secret string) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Auth{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for memberID valid for ttl.
func (a *Auth) Issue(memberID int64, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatInt(memberID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse verifies token and returns its member id.
func (a *Auth) Parse(token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

type memberKey struct{}

// WithMember stores the authenticated member id in ctx.
func WithMember(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, memberKey{}, id)
}

// MemberFrom returns the authenticated member id, or zero.
func MemberFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(memberKey{}).(int64)
	return id
}

// bearer extracts the token from the Authorization header, falling back to
// the token query parameter for browser websocket clients.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Require rejects requests without a valid bearer token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Parse(bearer(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "로그인이 필요합니다")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithMember(r.Context(), id)))
	})
}
