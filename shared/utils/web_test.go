package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Body    string   `json:"body" validate:"required,max=10"`
	Options []string `json:"options" validate:"omitempty,min=2,dive,required"`
}

func TestDecodeValidate(t *testing.T) {
	var s sample
	require.NoError(t, DecodeValidate(strings.NewReader(`{"body":"hi","options":["a","b"]}`), &s))
	assert.Equal(t, "hi", s.Body)

	err := DecodeValidate(strings.NewReader(`{"body":""}`), &sample{})
	assert.True(t, internal_errors.Is[*internal_errors.ValidationError](err))

	err = DecodeValidate(strings.NewReader(`{"body":"ok","options":["a"]}`), &sample{})
	assert.True(t, internal_errors.Is[*internal_errors.ValidationError](err))

	err = DecodeValidate(strings.NewReader(`{`), &sample{})
	assert.True(t, internal_errors.Is[*internal_errors.ValidationError](err))
}

func TestWriteErrorAndStatusCode(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteErrorAndStatusCode(rr, &internal_errors.NotFoundError{Entity: "thread", Id: "t1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "thread t1 not found")
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"id": "m1"})
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"m1"}`, rr.Body.String())
}
