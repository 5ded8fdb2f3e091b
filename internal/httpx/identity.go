package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// HeaderUserID is set by the gateway when tokens are verified upstream.
const HeaderUserID = "X-User-ID"

type userKey struct{}

// Identity resolves the calling user. With a secret it requires an HS256
// bearer token whose sub claim is the numeric user id; without one it
// trusts HeaderUserID.
type Identity struct {
	Secret []byte
}

func (i Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := i.resolve(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "Authentication credentials were not provided or are invalid."})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, uid)))
	})
}

func (i Identity) resolve(r *http.Request) (int64, error) {
	if len(i.Secret) == 0 {
		return parseUserID(r.Header.Get(HeaderUserID))
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return 0, errors.New("missing bearer token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, errors.Wrap(err, "parse token")
	}
	return parseUserID(claims.Subject)
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid user id %q", s)
	}
	return id, nil
}

// UserID returns the id stored by Identity.Middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}
