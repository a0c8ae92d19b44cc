package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(r))
}

func TestBearerTokenMissingOrMalformed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(r))

	r.Header.Set("Authorization", "Bearer")
	assert.Empty(t, BearerToken(r))
}

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))

	var body struct {
		Email string `json:"email"`
	}
	require.NoError(t, ParseJSON(r, &body))
	assert.Equal(t, "a@example.com", body.Email)
}

func TestParseJSONOrErrorWritesBadRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	var body map[string]any
	ok := ParseJSONOrError(w, r, &body)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
