package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-bytes-long"

func authRouter(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api", am.RequireAuth())
	api.GET("/analysis", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(ContextSubject)})
	})
	api.DELETE("/cache", am.RequireScope(ScopeAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := authRouter(NewAuthMiddleware("", false))
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/api/analysis", "").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(router, http.MethodDelete, "/api/cache", "").Code)
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	am := NewAuthMiddleware(testSecret, true)
	router := authRouter(am)

	valid, err := am.GenerateToken("analyst-1", nil, time.Hour)
	require.NoError(t, err)
	expired, err := am.GenerateToken("analyst-1", nil, -time.Hour)
	require.NoError(t, err)
	foreign, err := NewAuthMiddleware("another-secret-entirely-different", true).GenerateToken("x", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid bearer", "Bearer " + valid, http.StatusOK, "analyst-1"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "analyst-1"},
		{"missing header", "", http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "Authorization header required"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "Authorization header required"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Token expired"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "Invalid token"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "Invalid token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, "/api/analysis", tc.header)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestAuthMiddleware_RequireScope(t *testing.T) {
	am := NewAuthMiddleware(testSecret, true)
	router := authRouter(am)

	plain, err := am.GenerateToken("analyst", nil, time.Hour)
	require.NoError(t, err)
	admin, err := am.GenerateToken("ops", []string{ScopeAdmin}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doRequest(router, http.MethodDelete, "/api/cache", "Bearer "+plain).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(router, http.MethodDelete, "/api/cache", "Bearer "+admin).Code)
}

func TestAuthMiddleware_RejectsNonHMAC(t *testing.T) {
	am := NewAuthMiddleware(testSecret, true)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = am.ValidateToken(signed)
	assert.Error(t, err)
}

func TestAuthMiddleware_ValidateTokenRoundTrip(t *testing.T) {
	am := NewAuthMiddleware(testSecret, true)
	token, err := am.GenerateToken("ops", []string{ScopeAdmin}, time.Minute)
	require.NoError(t, err)

	claims, err := am.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{ScopeAdmin}, claims.Scopes)
}
