package validation

import (
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateImage(t *testing.T) {
	assert.ErrorIs(t, ValidateImage(nil), ErrFileRequired)
	assert.ErrorIs(t, ValidateImage(&multipart.FileHeader{Filename: "logo.gif", Size: 10}), ErrFileType)
	assert.ErrorIs(t, ValidateImage(&multipart.FileHeader{Filename: "logo.png", Size: MaxImageSize + 1}), ErrFileSize)
	assert.NoError(t, ValidateImage(&multipart.FileHeader{Filename: "Logo.PNG", Size: 10}))
}

func TestValidateColor(t *testing.T) {
	for _, ok := range []string{"", "#fff", "#4F46E5"} {
		assert.NoError(t, ValidateColor(ok), ok)
	}
	for _, bad := range []string{"red", "#12", "4f46e5", "#4f46e5ff"} {
		assert.ErrorIs(t, ValidateColor(bad), ErrColor, bad)
	}
}

func TestValidateEmailAndPassword(t *testing.T) {
	assert.NoError(t, ValidateEmail("planner@example.com"))
	assert.ErrorIs(t, ValidateEmail("Planner <planner@example.com>"), ErrEmail)
	assert.ErrorIs(t, ValidateEmail("nope"), ErrEmail)
	assert.ErrorIs(t, ValidatePassword("short"), ErrPassword)
	assert.NoError(t, ValidatePassword("long enough"))
}
