package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, 200, map[string]int{"remaining": 5})
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body["remaining"])
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 500, errors.New("ledger unavailable"))

	assert.Equal(t, 500, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ledger unavailable", body["error"])
}

func TestWriteDetailedError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDetailedError(rec, 402, errors.New("insufficient credits"), map[string]string{
		"action": "resume_generation",
	})

	assert.Equal(t, 402, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient credits", body.Error)
	assert.Equal(t, "resume_generation", body.Details["action"])
}
