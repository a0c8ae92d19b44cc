package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "User not found")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "User not found", body.Message)
	assert.Nil(t, body.Count)
}

func TestWriteConflictCount(t *testing.T) {
	w := httptest.NewRecorder()

	WriteConflictCount(w, "Cannot delete role that is assigned to users", 3)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Cannot delete role that is assigned to users", body.Message)
	require.NotNil(t, body.Count)
	assert.Equal(t, 3, *body.Count)
}

func TestWriteUnauthorizedAndForbidden(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "Authentication required")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	WriteForbidden(w, "Insufficient permissions")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
