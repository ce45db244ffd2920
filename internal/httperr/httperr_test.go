package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/apperr"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestRespondMapsKnownCodeToStatus(t *testing.T) {
	c, w := newTestContext()
	Respond(c, apperr.New(apperr.CodeNotFound, "api key not found"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var got body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, apperr.CodeNotFound, got.Code)
	assert.Equal(t, "api key not found", got.Error)
	assert.NotEmpty(t, got.RequestID)
	assert.NotEmpty(t, got.Timestamp)
}

func TestRespondCollapsesUnknownErrorsToInternal(t *testing.T) {
	c, w := newTestContext()
	Respond(c, errors.New("unexpected"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var got body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, apperr.CodeInternalError, got.Code)
}

func TestRespondSetsRetryAfterForRateLimited(t *testing.T) {
	c, w := newTestContext()
	err := apperr.New(apperr.CodeRateLimited, "slow down").WithDetails(map[string]any{"retryAfter": 42})
	Respond(c, err)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestRequestIDIsStableAcrossCalls(t *testing.T) {
	c, _ := newTestContext()
	first := RequestID(c)
	second := RequestID(c)
	assert.Equal(t, first, second)
}

func TestStatusForUnknownCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(apperr.Code("SOMETHING_NEW")))
}
