package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/models"
)

type contextKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal *models.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	principal, ok := ctx.Value(contextKey{}).(*models.Principal)
	return principal, ok
}

// Claims is the JWT payload issued by the session service. The subject is
// the user ID; org and 2fa reflect the session's active organization and
// second-factor enrollment.
type Claims struct {
	jwt.RegisteredClaims

	OrgID             string `json:"org,omitempty"`
	TwoFactorEnrolled bool   `json:"2fa,omitempty"`
}

// Verifier validates bearer tokens and produces principals.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 tokens signed with secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a bearer token.
func (v *Verifier) Verify(tokenString string) (*models.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}

	principal := &models.Principal{
		UserID:            userID,
		TwoFactorEnrolled: claims.TwoFactorEnrolled,
	}

	if claims.OrgID != "" {
		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			return nil, fmt.Errorf("invalid org claim: %w", err)
		}
		principal.SessionOrgID = orgID
	}

	return principal, nil
}

// Middleware authenticates requests with a bearer token and stores the
// principal in the request context. Requests without a valid token get a
// 401 with no detail.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		principal, err := v.Verify(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("Rejected bearer token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Mint issues a signed token for a principal. Used by tests and local
// tooling; production tokens come from the session service.
func (v *Verifier) Mint(principal *models.Principal) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: principal.UserID.String(),
		},
		TwoFactorEnrolled: principal.TwoFactorEnrolled,
	}
	if principal.SessionOrgID != uuid.Nil {
		claims.OrgID = principal.SessionOrgID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
