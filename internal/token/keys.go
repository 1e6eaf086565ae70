package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey wraps PEM material that is not a usable RSA key.
var ErrInvalidKey = errors.New("token: invalid RSA key")

// loadKeyPair parses PKCS#1 or PKCS#8 private keys and PKIX, PKCS#1 or
// certificate public keys, and rejects a mismatched pair.
func loadKeyPair(privatePEM, publicPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(privatePEM)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(strings.TrimSpace(publicPEM)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
	}
	return priv, pub, nil
}
