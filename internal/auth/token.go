package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/scribly/presence/internal/wire"
)

// Claims carried inside a presence token. The subject is the user id; the
// remaining fields feed the user descriptor shown to other room members.
type Claims struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`

	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 tokens issued by the account service. The
// presence server never issues production tokens itself.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses the raw token and returns the user descriptor from its
// claims.
func (v *TokenVerifier) Verify(raw string) (wire.User, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return wire.User{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return wire.User{}, fmt.Errorf("invalid token")
	}

	return wire.User{
		ID:        claims.Subject,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// Issue signs a token for the given user. Used by tests and the dev `token`
// command.
func (v *TokenVerifier) Issue(user wire.User, ttl time.Duration) (string, error) {
	now := time.Now().In(time.UTC)
	claims := Claims{
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
