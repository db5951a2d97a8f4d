// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves the caller of an HTTP request to an Identity.
//
// Two sources are supported: HMAC-signed bearer tokens, and, for
// development behind a trusted proxy, plain identity headers.
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
)

const (
	HeaderUser  = "X-Vospace-User"
	HeaderWrite = "X-Vospace-Write"

	// MinSecretLength is the shortest accepted HMAC secret.
	MinSecretLength = 32

	defaultIssuer = "vospace"
)

var (
	ErrUnauthenticated     = errors.New("authentication required")
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidSecretLength = fmt.Errorf("JWT secret must be at least %d characters", MinSecretLength)
	ErrNoMethod            = errors.New("no authentication method configured")
)

// Identity is the authenticated caller.
type Identity struct {
	Username        string
	WritePermission bool
}

// Claims are the token claims; the subject is the username.
type Claims struct {
	jwt.RegisteredClaims

	Write bool `json:"write,omitempty"`
}

// Config configures an Authenticator.
type Config struct {
	// JWTSecret enables bearer tokens when set.
	JWTSecret string `mapstructure:"jwt_secret"`

	// Issuer is required on tokens. Default: "vospace".
	Issuer string `mapstructure:"issuer"`

	// TrustHeaders accepts X-Vospace-User / X-Vospace-Write as given.
	TrustHeaders bool `mapstructure:"trust_headers"`
}

// Authenticator validates requests.
type Authenticator struct {
	secret       []byte
	issuer       string
	trustHeaders bool
	now          func() time.Time
}

// New creates an Authenticator. At least one method must be enabled.
func New(cfg Config) (*Authenticator, error) {
	if cfg.JWTSecret == "" && !cfg.TrustHeaders {
		return nil, ErrNoMethod
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < MinSecretLength {
		return nil, ErrInvalidSecretLength
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &Authenticator{
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.Issuer,
		trustHeaders: cfg.TrustHeaders,
		now:          time.Now,
	}, nil
}

// IssueToken signs a token for id valid for ttl.
func (a *Authenticator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoMethod
	}
	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Write: id.WritePermission,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken checks signature, issuer and expiry.
func (a *Authenticator) ValidateToken(raw string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Username: claims.Subject, WritePermission: claims.Write}, nil
}

// Authenticate resolves the caller of r. A bearer token takes precedence
// over identity headers.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	if raw, ok := bearerToken(r); ok {
		return a.ValidateToken(raw)
	}
	if a.trustHeaders {
		if user := strings.TrimSpace(r.Header.Get(HeaderUser)); user != "" {
			write, _ := strconv.ParseBool(r.Header.Get(HeaderWrite))
			return Identity{Username: user, WritePermission: write}, nil
		}
	}
	return Identity{}, ErrUnauthenticated
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects unauthenticated requests with 401 and stores the
// Identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vospace"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type contextKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
