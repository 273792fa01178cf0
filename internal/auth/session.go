// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sessions are ed25519-signed JWTs. The default key pair lives in process
// memory, so a restart invalidates outstanding tokens; point InitFromPath at
// persisted keys when that matters.
var (
	signKey   ed25519.PrivateKey
	verifyKey ed25519.PublicKey

	// TokenExpireSeconds is the session token lifetime. 0 means no exp claim.
	TokenExpireSeconds int
)

// Init generates a fresh signing key pair and reads the token lifetime from
// TOKEN_EXPIRE_TIME (a Go duration string; "never", "0", or unset disables
// expiry).
func Init() error {
	var err error
	verifyKey, signKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generate session key pair: %w", err)
	}
	return loadTokenLifetime()
}

// InitFromPath loads raw ed25519 key material from the given files instead
// of generating a pair, so sessions survive restarts.
func InitFromPath(privatePath, publicPath string) error {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("read private key %s: %w", privatePath, err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("read public key %s: %w", publicPath, err)
	}
	signKey = ed25519.PrivateKey(priv)
	verifyKey = ed25519.PublicKey(pub)
	return loadTokenLifetime()
}

func loadTokenLifetime() error {
	raw := os.Getenv("TOKEN_EXPIRE_TIME")
	if raw == "" || raw == "0" || raw == "never" {
		TokenExpireSeconds = 0
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse TOKEN_EXPIRE_TIME %q: %w", raw, err)
	}
	TokenExpireSeconds = int(d.Seconds())
	return nil
}

// CreateJWT mints a signed session token whose subject is the user id.
func CreateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{"sub": userID}
	if TokenExpireSeconds > 0 {
		claims["exp"] = time.Now().Add(time.Duration(TokenExpireSeconds) * time.Second).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(signKey)
}

// AuthenticateJWT verifies a session token and returns its subject claim.
func AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return verifyKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid session token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected session claims shape")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("session token missing subject")
	}
	return sub, nil
}
