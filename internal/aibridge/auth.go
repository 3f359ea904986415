package aibridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// authClaims is carried inside the bearer JWT sent in the auth frame.
type authClaims struct {
	CallID     string `json:"call_id"`
	InstanceID string `json:"instance_id"`
	jwt.RegisteredClaims
}

// Authenticator produces the auth frame's credential block for one call.
type Authenticator struct {
	jwtSecret  []byte
	hmacSecret []byte
	instanceID string
}

// NewAuthenticator creates an Authenticator. jwtSecret signs the bearer
// token; hmacSecret produces the wire-level signature field, a distinct
// credential from the JWT's own signing key.
func NewAuthenticator(jwtSecret, hmacSecret []byte, instanceID string) *Authenticator {
	return &Authenticator{jwtSecret: jwtSecret, hmacSecret: hmacSecret, instanceID: instanceID}
}

// Build produces the AuthPayload for callID: a short-lived JWT carrying
// call_id and instance_id claims, plus an HMAC-SHA256 signature over
// call_id and the timestamp.
func (a *Authenticator) Build(callID string) (AuthPayload, error) {
	now := time.Now()
	claims := authClaims{
		CallID:     callID,
		InstanceID: a.instanceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return AuthPayload{}, err
	}

	ts := now.Unix()
	sig := a.sign(callID, ts)

	return AuthPayload{
		Token:     signed,
		Signature: sig,
		Timestamp: ts,
		CallID:    callID,
	}, nil
}

func (a *Authenticator) sign(callID string, timestamp int64) string {
	mac := hmac.New(sha256.New, a.hmacSecret)
	mac.Write([]byte(callID))
	mac.Write([]byte{0})
	mac.Write([]byte(time.Unix(timestamp, 0).UTC().Format(time.RFC3339)))
	return hex.EncodeToString(mac.Sum(nil))
}
