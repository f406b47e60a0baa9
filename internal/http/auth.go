package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"frota/internal/log"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const accountContextKey contextKey = "account_id"

// Authenticator resolves the account of a request from an HS256 bearer
// token. The account is the token subject.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// IssueToken signs a token for account valid for ttl.
func (a *Authenticator) IssueToken(account string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("account is required")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Account validates token and returns its subject.
func (a *Authenticator) Account(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: token has no subject", errUnauthorized)
	}
	return sub, nil
}

// bearer extracts the token from the Authorization header. Websocket
// clients that cannot set headers pass it as ?access_token=.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Middleware rejects requests without a valid token with 401 and stores the
// account in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", errUnauthorized))
			return
		}
		account, err := a.Account(token)
		if err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Token rejected",
				log.NewFields().
					WithComponent(log.ComponentAuth).
					WithErrorType(log.ErrorTypeAuth).
					WithError(err).
					ToSlice()...)
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, account)
		logger := log.FromContext(ctx).With(log.FieldAccountID, account)
		next.ServeHTTP(w, r.WithContext(log.NewContext(ctx, logger)))
	})
}

// AccountFromContext returns the account stored by Middleware.
func AccountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(accountContextKey).(string)
	return account
}
