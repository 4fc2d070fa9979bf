package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"carconnect-api/pkg/middleware"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAdminToken(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantCode   int
	}{
		{"valid token", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"lower-case scheme", "s3cret", "bearer s3cret", http.StatusNoContent},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"no token after scheme", "s3cret", "Bearer ", http.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer guess", http.StatusForbidden},
		{"prefix of token", "s3cret", "Bearer s3c", http.StatusForbidden},
		{"admin disabled", "", "Bearer anything", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.AdminToken(tt.configured, zap.NewNop())(ok)

			req := httptest.NewRequest(http.MethodGet, "/api/admin/payments", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRecover(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("db exploded")
	})

	t.Run("production hides panic value", func(t *testing.T) {
		rec := httptest.NewRecorder()
		middleware.Recover(zap.NewNop(), false)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	})

	t.Run("development shows panic value", func(t *testing.T) {
		rec := httptest.NewRecorder()
		middleware.Recover(zap.NewNop(), true)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"Internal server error","message":"db exploded"}`, rec.Body.String())
	})
}

func TestLoggerKeepsFlusher(t *testing.T) {
	var flushable bool
	h := middleware.Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, flushable)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
