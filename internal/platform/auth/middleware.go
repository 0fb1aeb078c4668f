package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

// ActorKey is the echo context key holding the authenticated actor id, read
// by the request logger.
const ActorKey = "actor_id"

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// ActorResolver maps a token subject to the actor's current role and status.
type ActorResolver interface {
	GetActor(ctx context.Context, id uuid.UUID) (access.Actor, error)
}

// ParseToken validates tokenStr and returns the actor id in its subject.
// Expired tokens yield apperr.ErrTokenExpired, anything else invalid yields
// apperr.ErrUnauthenticated.
func ParseToken(cfg JWTConfig, tokenStr string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, apperr.ErrTokenExpired
		}
		return uuid.Nil, apperr.Wrap(apperr.KindUnauthenticated, err, "invalid token")
	}
	if !token.Valid {
		return uuid.Nil, apperr.New(apperr.KindUnauthenticated, "invalid token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindUnauthenticated, "token subject is not an actor id")
	}
	return id, nil
}

// IssueToken signs an HS256 token for actor valid for ttl.
func IssueToken(cfg JWTConfig, actor access.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: string(actor.Role),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		// browsers cannot set headers on a websocket upgrade
		if t := c.QueryParam("access_token"); t != "" && strings.HasSuffix(c.Path(), "/ws") {
			return t, nil
		}
		return "", apperr.New(apperr.KindUnauthenticated, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.New(apperr.KindUnauthenticated, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// JWTMiddleware authenticates the bearer token and attaches the actor's
// identity context to the request. Role and active flag always come from the
// directory, never from the token, so deactivation takes effect immediately.
func JWTMiddleware(cfg JWTConfig, actors ActorResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c)
			if err != nil {
				return apperr.HTTPError(err)
			}
			id, err := ParseToken(cfg, tokenStr)
			if err != nil {
				return apperr.HTTPError(err)
			}
			return withActor(c, next, actors, id)
		}
	}
}

// DevAuthMiddleware acts as devActorID for requests without credentials.
// Requests that do carry a token are validated as in JWTMiddleware.
func DevAuthMiddleware(devActorID uuid.UUID, cfg JWTConfig, actors ActorResolver) echo.MiddlewareFunc {
	strict := JWTMiddleware(cfg, actors)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := strict(next)
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			if c.Request().Header.Get("Authorization") != "" || c.QueryParam("access_token") != "" {
				return withToken(c)
			}
			if devActorID == uuid.Nil {
				return apperr.HTTPError(apperr.New(apperr.KindUnauthenticated, "no credentials and no development actor configured"))
			}
			return withActor(c, next, actors, devActorID)
		}
	}
}

func withActor(c echo.Context, next echo.HandlerFunc, actors ActorResolver, id uuid.UUID) error {
	actor, err := actors.GetActor(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.HTTPError(apperr.New(apperr.KindUnauthenticated, "unknown actor"))
		}
		return apperr.HTTPError(err)
	}
	c.Set(ActorKey, actor.ID.String())
	c.SetRequest(c.Request().WithContext(access.WithActor(c.Request().Context(), actor)))
	return next(c)
}
