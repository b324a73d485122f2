package validator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
)

type reviewBody struct {
	Rating  *int   `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=10"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func intPtr(v int) *int { return &v }

func TestValidate_Success(t *testing.T) {
	err := Validate(reviewBody{Rating: intPtr(4), Comment: "lovely", Email: "a@b.ma"})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired_UsesJSONName(t *testing.T) {
	err := Validate(reviewBody{})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "is required", valErr.Fields()["rating"])
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestValidate_NumericBounds(t *testing.T) {
	err := Validate(reviewBody{Rating: intPtr(9)})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be at most 5", valErr.Fields()["rating"])
}

func TestValidate_StringLength(t *testing.T) {
	err := Validate(reviewBody{Rating: intPtr(3), Comment: strings.Repeat("x", 11)})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be at most 10 characters", valErr.Fields()["comment"])
	assert.Contains(t, valErr.Error(), "field 'comment'")
}

func TestValidate_Email(t *testing.T) {
	err := Validate(reviewBody{Rating: intPtr(3), Email: "nope"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be a valid email address", valErr.Fields()["email"])
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":5}`))
		var body reviewBody
		require.NoError(t, DecodeAndValidate(req, &body))
		assert.Equal(t, 5, *body.Rating)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":`))
		var body reviewBody
		err := DecodeAndValidate(req, &body)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":5,"stars":5}`))
		var body reviewBody
		err := DecodeAndValidate(req, &body)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stars")
	})

	t.Run("fails validation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rating":0}`))
		var body reviewBody
		err := DecodeAndValidate(req, &body)
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr)
	})
}
