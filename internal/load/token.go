package load

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// TokenSafetyMargin is how long before expiry a cached token is
	// considered stale.
	TokenSafetyMargin = 5 * time.Second

	// DefaultTokenTTL applies when a login response carries no usable
	// expires_in.
	DefaultTokenTTL = 120 * time.Second
)

// Credentials are posted to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenSource hands out the bearer token for the auth step. An empty
// string means no token is available and the step is skipped.
type TokenSource interface {
	EnsureValid(ctx context.Context) string
}

// StaticToken is the write-once token of shared-login mode. It is never
// refreshed.
type StaticToken string

// EnsureValid returns the token unchanged.
func (s StaticToken) EnsureValid(context.Context) string {
	return string(s)
}

// TokenCache is a VU's own bearer token and its absolute expiry. It is
// owned by exactly one VU loop and needs no locking.
type TokenCache struct {
	target *Target
	creds  Credentials
	vuID   int
	now    func() time.Time

	token  string
	expiry time.Time
	logins int
}

// NewTokenCache creates an empty cache for the given VU.
func NewTokenCache(target *Target, creds Credentials, vuID int) *TokenCache {
	return &TokenCache{
		target: target,
		creds:  creds,
		vuID:   vuID,
		now:    time.Now,
	}
}

// WithClock replaces the cache's clock.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// EnsureValid returns a usable token, logging in first when none is cached
// or the cached one is within TokenSafetyMargin of expiry. A failed login
// leaves the previous token and expiry untouched and that token, possibly
// empty, is returned.
func (c *TokenCache) EnsureValid(ctx context.Context) string {
	if c.token != "" && !c.now().After(c.expiry.Add(-TokenSafetyMargin)) {
		return c.token
	}

	c.logins++
	token, ttl, ok := c.target.login(ctx, StepAuth, c.creds, originFrom(ctx, callOrigin{vuID: c.vuID}))
	if ok {
		c.token = token
		c.expiry = c.now().Add(ttl)
	}
	return c.token
}

// Token returns the cached token and its expiry without refreshing.
func (c *TokenCache) Token() (string, time.Time) {
	return c.token, c.expiry
}

// Logins returns how many login attempts the cache has made.
func (c *TokenCache) Logins() int {
	return c.logins
}

// login posts creds to the login endpoint and parses the access token and
// its lifetime. ok is false for transport errors, non-200 responses,
// malformed bodies and empty tokens.
func (t *Target) login(ctx context.Context, step string, creds Credentials, origin callOrigin) (token string, ttl time.Duration, ok bool) {
	res := t.do(ctx, origin, call{
		step:   step,
		name:   CallLogin,
		method: http.MethodPost,
		path:   "/users/login",
		body:   jsonBody(creds),
	})
	if !res.OK() || !gjson.ValidBytes(res.Body) {
		return "", 0, false
	}

	token = gjson.GetBytes(res.Body, "access_token").String()
	if token == "" {
		return "", 0, false
	}

	ttl = DefaultTokenTTL
	if secs := gjson.GetBytes(res.Body, "expires_in").Float(); secs > 0 {
		ttl = time.Duration(secs * float64(time.Second))
	}
	return token, ttl, true
}

// SharedLogin performs the one login of shared-login mode. The returned
// token is empty when the login failed.
func (t *Target) SharedLogin(ctx context.Context, creds Credentials) StaticToken {
	token, _, _ := t.login(ctx, StepSetup, creds, callOrigin{})
	return StaticToken(token)
}
