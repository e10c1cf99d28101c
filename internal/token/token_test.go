package token

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret")
	tok, err := issuer.Issue(200)
	require.NoError(t, err)
	require.NoError(t, issuer.Verify(tok, 200))
}

func TestVerifyRejectsOtherUser(t *testing.T) {
	issuer := NewIssuer("secret")
	tok, err := issuer.Issue(200)
	require.NoError(t, err)
	require.ErrorIs(t, issuer.Verify(tok, 201), ErrInvalidToken)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	tok, err := NewIssuer("other").Issue(200)
	require.NoError(t, err)
	require.ErrorIs(t, NewIssuer("secret").Verify(tok, 200), ErrInvalidToken)
}

func TestVerifyRejectsEmptyAndGarbage(t *testing.T) {
	issuer := NewIssuer("secret")
	require.ErrorIs(t, issuer.Verify("", 1), ErrInvalidToken)
	require.ErrorIs(t, issuer.Verify("not-a-jwt", 1), ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.ErrorIs(t, NewIssuer("secret").Verify(unsigned, 1), ErrInvalidToken)
}
