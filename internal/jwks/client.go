// Package jwks validates inspector bearer tokens against a JSON Web Key Set.
// Only EdDSA (Ed25519) keys are accepted.
package jwks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Validation failures, matched with errors.Is.
var (
	ErrMalformed   = errors.New("jwks: malformed token")
	ErrExpired     = errors.New("jwks: token expired")
	ErrInvalid     = errors.New("jwks: invalid token")
	ErrKeyNotFound = errors.New("jwks: signing key not found")
)

// cacheTTL bounds how long a fetched key set is trusted.
const cacheTTL = 5 * time.Minute

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key, base64url
}

// Claims are the validated claims of an inspector token.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// Client handles JWKS discovery and caching
type Client struct {
	jwksURL    string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]ed25519.PublicKey
	expiresAt time.Time

	signer    ed25519.PrivateKey // set by NewTestClient only
	signerKid string
}

// NewClient creates a client that fetches keys from jwksURL.
func NewClient(jwksURL string) *Client {
	return &Client{
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// NewTestClient creates a client with an in-process key pair. Tokens from
// IssueToken validate against it without any network access.
func NewTestClient() *Client {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("jwks: generate test key: %v", err))
	}
	kid := uuid.NewString()
	return &Client{
		now:       time.Now,
		keys:      map[string]ed25519.PublicKey{kid: pub},
		expiresAt: time.Unix(1<<62, 0),
		signer:    priv,
		signerKid: kid,
	}
}

// IssueToken signs a token with the test key.
func (c *Client) IssueToken(subject, issuer, audience string, ttl time.Duration) (string, error) {
	if c.signer == nil {
		return "", errors.New("jwks: client has no signing key")
	}
	now := c.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	tok.Header["kid"] = c.signerKid
	return tok.SignedString(c.signer)
}

// fetchJWKS fetches the key set from the issuer.
func (c *Client) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &set, nil
}

// parseKeys keeps the Ed25519 signing keys of a set.
func parseKeys(set *JWKS) map[string]ed25519.PublicKey {
	keys := make(map[string]ed25519.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" || (k.Alg != "" && k.Alg != "EdDSA") {
			continue
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil || len(x) != ed25519.PublicKeySize {
			continue
		}
		keys[k.Kid] = ed25519.PublicKey(x)
	}
	return keys
}

// key returns the key for kid, refreshing the cached set when it has
// expired or does not know kid.
func (c *Client) key(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	c.mu.RLock()
	k, ok := c.keys[kid]
	fresh := c.now().Before(c.expiresAt)
	c.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}
	if c.jwksURL == "" {
		return nil, ErrKeyNotFound
	}

	set, err := c.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	keys := parseKeys(set)

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(cacheTTL)
	c.mu.Unlock()

	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, ErrKeyNotFound
}

// ValidateJWT verifies signature, issuer, audience and expiry.
func (c *Client) ValidateJWT(ctx context.Context, tokenString, expectedIssuer, expectedAudience string) (Claims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("%w: missing kid", ErrMalformed)
			}
			return c.key(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(expectedIssuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrMalformed):
		return Claims{}, err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub claim", ErrInvalid)
	}
	out := Claims{Subject: claims.Subject, Issuer: claims.Issuer}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
