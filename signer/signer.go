// Package signer computes the HMAC signatures used on the RTMS sockets and webhooks,
// and issues session-join tokens.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

const partDelimiter = ","

// Sign returns the hex-encoded HMAC-SHA256 of parts joined with ",".
func Sign(key []byte, parts ...string) (string, error) {
	if len(key) == 0 {
		return "", errors.Wrap(types.ErrConfiguration, "signing secret is empty")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(parts, partDelimiter)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// HandshakeSignature signs the identity triple sent in both socket handshakes.
func HandshakeSignature(clientID, sessionID, streamID, secret string) (string, error) {
	return Sign([]byte(secret), clientID, sessionID, streamID)
}

// ChallengeResponse is the reply to an endpoint URL validation request.
type ChallengeResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// Challenge answers the URL validation subtype of a webhook.
func Challenge(secretToken, plainToken string) (ChallengeResponse, error) {
	enc, err := Sign([]byte(secretToken), plainToken)
	if err != nil {
		return ChallengeResponse{}, err
	}
	return ChallengeResponse{PlainToken: plainToken, EncryptedToken: enc}, nil
}

// WebhookSignature returns the value expected in the x-zm-signature header.
func WebhookSignature(secretToken, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretToken))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook reports whether signature matches the body exactly.
// An empty secret never verifies.
func VerifyWebhook(secretToken, timestamp string, body []byte, signature string) bool {
	if secretToken == "" || signature == "" {
		return false
	}
	expected := WebhookSignature(secretToken, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Session token defaults.
const (
	TokenClockSkew = 30 * time.Second
	TokenLifetime  = 2 * time.Hour
	RoleHost       = 1
	RoleAttendee   = 0
)

// TokenClaims describes a session-join token. IssuedAt defaults to now minus clock skew.
type TokenClaims struct {
	AppKey      string
	SessionName string
	Role        int
	IssuedAt    time.Time
	Lifetime    time.Duration
}

// SessionToken signs an HS256 JWT that lets a client join the named session.
func SessionToken(claims TokenClaims, secret string) (string, error) {
	if secret == "" || claims.AppKey == "" {
		return "", errors.Wrap(types.ErrConfiguration, "session token key or secret is empty")
	}
	if claims.SessionName == "" {
		return "", errors.New("session name is required")
	}
	iat := claims.IssuedAt
	if iat.IsZero() {
		iat = time.Now().Add(-TokenClockSkew)
	}
	lifetime := claims.Lifetime
	if lifetime <= 0 {
		lifetime = TokenLifetime
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"app_key":   claims.AppKey,
		"tpc":       claims.SessionName,
		"role_type": claims.Role,
		"version":   1,
		"iat":       iat.Unix(),
		"exp":       iat.Add(lifetime).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}
