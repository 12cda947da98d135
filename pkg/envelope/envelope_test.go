package envelope

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyi-network/blog-pipeline/pkg/apierrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKWritesResultEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	OK(w, r, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, http.StatusOK, env.StatusCode)
	assert.Nil(t, env.Error)
}

func TestFailWritesAPIErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	Fail(w, r, apierrors.NotFound("publisher", "42"))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestFailWrapsOpaqueErrorAsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	Fail(w, r, assertErr{})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
