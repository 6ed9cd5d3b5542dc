package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Context is a named signing key. Access tokens, refresh tokens and media
// grants each get their own context so a leaked key in one domain never
// verifies tokens from another.
type Context struct {
	name   string
	secret []byte
}

func NewContext(name, secret string) (*Context, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing context %q: secret is required", name)
	}
	return &Context{name: name, secret: []byte(secret)}, nil
}

func (c *Context) Name() string {
	return c.name
}

// Sign serializes claims and appends an HMAC-SHA256 signature over the
// context name and payload. Token format: base64url(payload).base64url(sig).
// Mixing the name into the MAC keeps contexts disjoint even if two contexts
// are misconfigured with the same secret.
func (c *Context) Sign(claims interface{}) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig := c.mac(payload)
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(sig)), nil
}

// Verify checks the signature and decodes the payload into claims. Expiry is
// the caller's concern; use the typed helpers below for tokens with an exp.
func (c *Context) Verify(token string, claims interface{}) error {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ErrInvalidToken
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(sigBytes, c.mac(payloadBytes)) {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(payloadBytes, claims); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func (c *Context) mac(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(c.name))
	mac.Write([]byte{0})
	mac.Write(payload)
	return mac.Sum(nil)
}

// Contexts bundles the three key domains the platform uses.
type Contexts struct {
	Access     *Context
	Refresh    *Context
	MediaGrant *Context
}

func NewContexts(accessSecret, refreshSecret, mediaSecret string) (*Contexts, error) {
	access, err := NewContext("access", accessSecret)
	if err != nil {
		return nil, err
	}
	refresh, err := NewContext("refresh", refreshSecret)
	if err != nil {
		return nil, err
	}
	media, err := NewContext("media_grant", mediaSecret)
	if err != nil {
		return nil, err
	}
	return &Contexts{Access: access, Refresh: refresh, MediaGrant: media}, nil
}

// AuthClaims is the payload of access and refresh tokens.
type AuthClaims struct {
	UserID    uint   `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

func MintAuthToken(ctx *Context, userID uint, email string, ttl time.Duration) (string, error) {
	return ctx.Sign(AuthClaims{
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	})
}

func VerifyAuthToken(ctx *Context, token string) (*AuthClaims, error) {
	var claims AuthClaims
	if err := ctx.Verify(token, &claims); err != nil {
		return nil, err
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// MediaGrantClaims is the payload of a media access grant token: read-only
// scope over a single asset, short-lived regardless of subscription length.
type MediaGrantClaims struct {
	AssetID   uint   `json:"asset_id"`
	UserID    uint   `json:"user_id"`
	Scope     string `json:"scope"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

const ScopeReadAsset = "asset:read"

// Remaining returns the grant's remaining lifetime, never negative.
func (c *MediaGrantClaims) Remaining() time.Duration {
	d := time.Until(time.Unix(c.ExpiresAt, 0))
	if d < 0 {
		return 0
	}
	return d
}

func MintMediaGrant(ctx *Context, userID, assetID uint, ttl time.Duration) (string, *MediaGrantClaims, error) {
	now := time.Now()
	claims := MediaGrantClaims{
		AssetID:   assetID,
		UserID:    userID,
		Scope:     ScopeReadAsset,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	token, err := ctx.Sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, &claims, nil
}

func VerifyMediaGrant(ctx *Context, token string) (*MediaGrantClaims, error) {
	var claims MediaGrantClaims
	if err := ctx.Verify(token, &claims); err != nil {
		return nil, err
	}
	if claims.Scope != ScopeReadAsset {
		return nil, ErrInvalidToken
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
