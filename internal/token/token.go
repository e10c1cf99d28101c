package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid user token")

// Issuer signs and checks the bearer tokens handed to newly created users.
// The relay only echoes tokens unless enforcement is switched on.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// Issue returns an HMAC-signed token whose subject is the user id.
func (i *Issuer) Issue(userID state.UserID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID.String(),
		IssuedAt: jwt.NewNumericDate(i.now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and that the token was issued for userID.
func (i *Issuer) Verify(tokenString string, userID state.UserID) error {
	if tokenString == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	sub, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || state.UserID(sub) != userID {
		return fmt.Errorf("%w: subject %q does not match user %d", ErrInvalidToken, claims.Subject, userID)
	}
	return nil
}
