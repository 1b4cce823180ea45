// Package auth exchanges API keys for bearer tokens and guards API routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleUser  = "user"
	RolePro   = "pro"
	RoleAdmin = "admin"
)

// DevelopmentToken authenticates as admin when debug mode is on
const DevelopmentToken = "development_token"

const issuer = "correlator"

var (
	// ErrInvalidKey is returned when an API key matches no configured key
	ErrInvalidKey = errors.New("invalid api key")
	// ErrInvalidToken is returned for malformed, expired or forged tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingToken is returned when a request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")
	// ErrForbidden is returned when a principal lacks the required role
	ErrForbidden = errors.New("insufficient permissions")
)

// Principal is an authenticated API caller
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// IsAdmin reports whether the principal has the admin role
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Claims is the JWT payload
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TierLookup returns the paid tier of a subject, or empty
type TierLookup func(ctx context.Context, subject string) string

// Key is a configured API key: a subject, a role and the bcrypt hash of the secret
type Key struct {
	Name string
	Role string
	Hash []byte
}

// ParseKeys reads API keys formatted as name:role:bcrypthash
func ParseKeys(entries []string) ([]Key, error) {
	keys := make([]Key, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// bcrypt hashes contain '$' but no ':'
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("api key %q: want name:role:hash", parts[0])
		}
		switch parts[1] {
		case RoleUser, RolePro, RoleAdmin:
		default:
			return nil, fmt.Errorf("api key %s: unknown role %q", parts[0], parts[1])
		}
		if _, err := bcrypt.Cost([]byte(parts[2])); err != nil {
			return nil, fmt.Errorf("api key %s: %w", parts[0], err)
		}
		keys = append(keys, Key{Name: parts[0], Role: parts[1], Hash: []byte(parts[2])})
	}
	return keys, nil
}

// HashKey returns the bcrypt hash for a new API key secret
func HashKey(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Config controls token issuing
type Config struct {
	Secret    string
	TTL       time.Duration
	DebugMode bool
}

// Authenticator issues and verifies tokens
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	debug  bool
	keys   []Key
	tier   TierLookup
	now    func() time.Time
	logger zerolog.Logger
}

// New creates an authenticator. tier may be nil.
func New(cfg Config, keys []Key, tier TierLookup) *Authenticator {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Authenticator{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		debug:  cfg.DebugMode,
		keys:   keys,
		tier:   tier,
		now:    time.Now,
		logger: log.With().Str("component", "auth").Logger(),
	}
}

// Token is an issued bearer token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
}

// Exchange verifies an API key and issues a token for its subject.
// Users with an active subscription are promoted to pro.
func (a *Authenticator) Exchange(ctx context.Context, apiKey string) (*Token, error) {
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(apiKey)) != nil {
			continue
		}
		role := k.Role
		if role == RoleUser && a.tier != nil && a.tier(ctx, k.Name) == RolePro {
			role = RolePro
		}
		return a.Issue(Principal{Subject: k.Name, Role: role})
	}
	a.logger.Warn().Msg("API key rejected")
	return nil, ErrInvalidKey
}

// Issue signs an HS256 token for a principal
func (a *Authenticator) Issue(p Principal) (*Token, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(a.ttl.Seconds()),
		ExpiresAt:   exp.UTC(),
		Role:        p.Role,
	}, nil
}

// Verify parses a bearer token into a principal
func (a *Authenticator) Verify(token string) (Principal, error) {
	if a.debug && token == DevelopmentToken {
		return Principal{Subject: "developer", Role: RoleAdmin}, nil
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

type contextKey struct{}

// WithPrincipal stores a principal in the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the authenticated principal
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// ErrorWriter reports an auth failure with the given status
type ErrorWriter func(w http.ResponseWriter, status int, err error)

// Middleware authenticates every request and stores the principal in its context
func (a *Authenticator) Middleware(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				fail(w, http.StatusUnauthorized, err)
				return
			}
			p, err := a.Verify(token)
			if err != nil {
				a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Token rejected")
				fail(w, http.StatusUnauthorized, ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects principals without the admin role
func RequireAdmin(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				fail(w, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			if !p.IsAdmin() {
				fail(w, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
