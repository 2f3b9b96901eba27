package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(models.SignInRequest{Email: "a@example.com", Password: "x"}))

	err := ValidateStruct(models.SignUpRequest{Email: "nope", Password: "123"})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeValidation))
	assert.Contains(t, err.Error(), "email must be a valid email address")
	assert.Contains(t, err.Error(), "password must be at least 6 characters")
	assert.Contains(t, err.Error(), "username is required")
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateStruct(models.TextContent{Text: "hello"}))

	err := ValidateStruct(models.LinkContent{URL: "not a url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url must be a valid URL")

	err = ValidateStruct(models.PhotoContent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestCustomValidator(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(&models.CreateCommentRequest{Text: "hi"}))
	assert.Error(t, v.Validate(&models.CreateCommentRequest{}))
}
