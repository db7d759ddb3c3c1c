package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrInvalidToken = errors.New("invalid token format")
	ErrBadSignature = errors.New("token signature mismatch")
)

// Claims are the identity a verified token asserts.
type Claims struct {
	UserID   string
	Username string
}

// Verifier mints and checks HMAC-signed tokens. The token is
// base64url(userId).base64url(username).base64url(hmac-sha256), signed
// with a server-side secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Mint(userID, username string) string {
	return encode(userID) + "." + encode(username) + "." + encode(string(v.sign(userID, username)))
}

func (v *Verifier) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	userID, err := decode(parts[0])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	username, err := decode(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	sig, err := decode(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), v.sign(userID, username)) {
		return Claims{}, ErrBadSignature
	}
	return Claims{UserID: userID, Username: username}, nil
}

func (v *Verifier) sign(userID, username string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(username))
	return h.Sum(nil)
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
