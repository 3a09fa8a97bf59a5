package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/giftvault/giftvault/internal/security"
	"github.com/gin-gonic/gin"
)

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, header, value string) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.GET("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	responseRecorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/breakage", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	router.ServeHTTP(responseRecorder, req)

	return responseRecorder
}

func TestAdminKeyMiddlewareRejectsMissingKey(t *testing.T) {
	responseRecorder := runRequestWithMiddleware(t, AdminKeyMiddleware([]string{"secret-key"}), "", "")
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestAdminKeyMiddlewareRejectsWrongKey(t *testing.T) {
	responseRecorder := runRequestWithMiddleware(t, AdminKeyMiddleware([]string{"secret-key"}), APIKeyHeader, "nope")
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestAdminKeyMiddlewareAcceptsHeaderAndBearer(t *testing.T) {
	middleware := AdminKeyMiddleware([]string{" ", "secret-key"})
	if rr := runRequestWithMiddleware(t, middleware, APIKeyHeader, "secret-key"); rr.Code != http.StatusNoContent {
		t.Fatalf("header key: expected status 204, got %d", rr.Code)
	}
	if rr := runRequestWithMiddleware(t, middleware, "Authorization", "Bearer secret-key"); rr.Code != http.StatusNoContent {
		t.Fatalf("bearer key: expected status 204, got %d", rr.Code)
	}
}

func TestAdminKeyMiddlewareWithoutKeysRejectsEverything(t *testing.T) {
	responseRecorder := runRequestWithMiddleware(t, AdminKeyMiddleware(nil), APIKeyHeader, "anything")
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestAdminKeyMiddlewareAcceptsHashedKey(t *testing.T) {
	hash, err := security.HashAPIKey("ops-key")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	middleware := AdminKeyMiddleware([]string{hash})
	if rr := runRequestWithMiddleware(t, middleware, APIKeyHeader, "ops-key"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr := runRequestWithMiddleware(t, middleware, APIKeyHeader, hash); rr.Code != http.StatusUnauthorized {
		t.Fatalf("hash itself must not authenticate, got %d", rr.Code)
	}
}
