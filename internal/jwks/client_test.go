package jwks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuer   = "https://id.example"
	audience = "phigital"
)

func TestTestClientRoundTrip(t *testing.T) {
	c := NewTestClient()
	tok, err := c.IssueToken("inspector-1", issuer, audience, time.Hour)
	require.NoError(t, err)

	claims, err := c.ValidateJWT(context.Background(), tok, issuer, audience)
	require.NoError(t, err)
	assert.Equal(t, "inspector-1", claims.Subject)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	c := NewTestClient()
	other := NewTestClient()
	ctx := context.Background()

	expired, err := c.IssueToken("inspector-1", issuer, audience, -time.Minute)
	require.NoError(t, err)
	_, err = c.ValidateJWT(ctx, expired, issuer, audience)
	assert.True(t, errors.Is(err, ErrExpired), "%v", err)

	good, err := c.IssueToken("inspector-1", issuer, audience, time.Hour)
	require.NoError(t, err)
	_, err = c.ValidateJWT(ctx, good, "https://other", audience)
	assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
	_, err = c.ValidateJWT(ctx, good, issuer, "other")
	assert.True(t, errors.Is(err, ErrInvalid), "%v", err)

	foreign, err := other.IssueToken("inspector-1", issuer, audience, time.Hour)
	require.NoError(t, err)
	_, err = c.ValidateJWT(ctx, foreign, issuer, audience)
	assert.True(t, errors.Is(err, ErrKeyNotFound), "%v", err)

	_, err = c.ValidateJWT(ctx, "not-a-token", issuer, audience)
	assert.True(t, errors.Is(err, ErrMalformed), "%v", err)

	nosub, err := c.IssueToken("", issuer, audience, time.Hour)
	require.NoError(t, err)
	_, err = c.ValidateJWT(ctx, nosub, issuer, audience)
	assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
}

func TestIssueTokenRequiresSigner(t *testing.T) {
	_, err := NewClient("http://unused").IssueToken("s", issuer, audience, time.Hour)
	assert.Error(t, err)
}

func TestClientFetchesAndCachesKeys(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{
			{Kty: "RSA", Kid: "ignored"},
			{Kty: "OKP", Kid: "k1", Use: "sig", Alg: "EdDSA", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)},
		}})
	}))
	defer srv.Close()

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
			Subject:   "inspector-9",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		tok.Header["kid"] = kid
		s, err := tok.SignedString(priv)
		require.NoError(t, err)
		return s
	}

	c := NewClient(srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		claims, err := c.ValidateJWT(ctx, sign("k1"), issuer, audience)
		require.NoError(t, err)
		assert.Equal(t, "inspector-9", claims.Subject)
	}
	assert.Equal(t, int32(1), fetches.Load())

	_, err = c.ValidateJWT(ctx, sign("unknown"), issuer, audience)
	assert.True(t, errors.Is(err, ErrKeyNotFound), "%v", err)
	assert.Equal(t, int32(2), fetches.Load(), "unknown kid forces a refresh")
}

func TestClientFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	signer := NewTestClient()
	tok, err := signer.IssueToken("inspector-1", issuer, audience, time.Hour)
	require.NoError(t, err)

	_, err = NewClient(srv.URL).ValidateJWT(context.Background(), tok, issuer, audience)
	assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
}
