package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, auth string) (int, string) {
	t.Helper()
	var tenant string
	h := JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ = TenantID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, tenant
}

func TestJWTMiddleware(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	code, tenant := serve(t, "Bearer "+sign(t, jwt.MapClaims{"tenant_id": "clinic-a", "user_id": "u-1", "exp": exp}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "clinic-a", tenant)

	code, tenant = serve(t, "Bearer "+sign(t, jwt.MapClaims{"user_id": "u-1", "exp": exp}))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u-1", tenant)

	code, _ = serve(t, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serve(t, "Bearer "+sign(t, jwt.MapClaims{"tenant_id": "clinic-a", "exp": time.Now().Add(-time.Minute).Unix()}))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serve(t, "Bearer "+sign(t, jwt.MapClaims{"exp": exp}))
	assert.Equal(t, http.StatusUnauthorized, code)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"tenant_id": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	code, _ = serve(t, "Bearer "+none)
	assert.Equal(t, http.StatusUnauthorized, code)
}
