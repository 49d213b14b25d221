package operator

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(userID int64) Claims {
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "cci-admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerify(t *testing.T) {
	key, pub := newKeyPair(t)
	v, err := NewVerifierFromPEM(pub, "cci-admin")
	require.NoError(t, err)

	id, err := v.Verify(sign(t, key, validClaims(5)))
	require.NoError(t, err)
	require.Equal(t, int64(5), id.UserID)
	require.NotEmpty(t, id.Token)
}

func TestVerifyRejects(t *testing.T) {
	key, pub := newKeyPair(t)
	otherKey, _ := newKeyPair(t)
	v, err := NewVerifierFromPEM(pub, "cci-admin")
	require.NoError(t, err)

	expired := validClaims(5)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims(5)
	wrongIssuer.Issuer = "someone-else"

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(5)).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"expired", sign(t, key, expired), ErrInvalidToken},
		{"wrong issuer", sign(t, key, wrongIssuer), ErrInvalidToken},
		{"other key", sign(t, otherKey, validClaims(5)), ErrInvalidToken},
		{"no user", sign(t, key, validClaims(0)), ErrInvalidToken},
		{"hmac", hmac, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNewVerifierFromFile(t *testing.T) {
	_, pub := newKeyPair(t)
	path := filepath.Join(t.TempDir(), "operator.pub.pem")
	require.NoError(t, os.WriteFile(path, pub, 0o600))

	_, err := NewVerifier(path, "")
	require.NoError(t, err)

	_, err = NewVerifier(filepath.Join(t.TempDir(), "missing.pem"), "")
	require.Error(t, err)

	_, err = NewVerifierFromPEM([]byte("nope"), "")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key, pub := newKeyPair(t)
	v, err := NewVerifierFromPEM(pub, "")
	require.NoError(t, err)

	var seen *Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/badge-dialogs/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/api/badge-dialogs/x", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, validClaims(9)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, int64(9), seen.UserID)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, "", BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	require.Equal(t, "", BearerToken(req))

	req.Header.Set("Authorization", "bearer abc.def")
	require.Equal(t, "abc.def", BearerToken(req))
}
