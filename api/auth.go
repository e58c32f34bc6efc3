package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/puzpuzpuz/xsync/v4"

	"prism-board/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// AuthConfig selects how bearer tokens are verified. With LocalMode set to
// "hs256" tokens are checked against LocalSecret instead of the JWKS.
type AuthConfig struct {
	Audience    string
	Issuer      string
	LocalMode   string
	LocalSecret string
	KeyCacheTTL time.Duration
}

// Auth verifies bearer JWTs and turns their claims into a caller identity.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    *xsync.Map[string, cachedKey]
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) (*Auth, error) {
	a := &Auth{
		JWKS:        jwks,
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer,
		keyCache:    xsync.NewMap[string, cachedKey](),
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.keyCacheTTL == 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	switch strings.ToLower(cfg.LocalMode) {
	case "":
		if jwks == nil {
			return nil, errors.New("jwks is required unless LOCAL_AUTH_MODE is set")
		}
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	case "hs256":
		if cfg.LocalSecret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		a.TestMode = true
		a.TestSecret = []byte(cfg.LocalSecret)
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	default:
		return nil, errors.New("unsupported LOCAL_AUTH_MODE value")
	}
	return a, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	u, err := a.IdentityFromAuthHeader(h)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// IdentityFromAuthHeader verifies the bearer token in h and returns the
// caller's profile as far as the token carries it.
func (a *Auth) IdentityFromAuthHeader(h string) (domain.User, error) {
	token, err := bearerToken(h)
	if err != nil {
		return domain.User{}, err
	}
	claims, err := a.verify(token)
	if err != nil {
		return domain.User{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.User{}, errors.New("missing sub")
	}
	u := domain.User{ID: sub}
	u.Email, _ = claims["email"].(string)
	if u.Name, _ = claims["name"].(string); u.Name == "" {
		u.Name, _ = claims["nickname"].(string)
	}
	return u, nil
}

func (a *Auth) verify(token string) (jwt.MapClaims, error) {
	var keyFn jwt.Keyfunc
	if a.TestMode {
		keyFn = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		}
	} else {
		keyFn = a.keyForToken
	}
	parsed, err := a.parser.Parse(token, keyFn)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return nil, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}
	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if entry, ok := a.keyCache.Load(kid); ok {
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
