package validation

import (
	"errors"
	"mime/multipart"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrFileSize     = errors.New("file size exceeds limit of 10MB")
	ErrFileType     = errors.New("invalid file type. Allowed types: JPG, PNG, WEBP")
	ErrFileRequired = errors.New("no file provided")
	ErrColor        = errors.New("colors must be hex values like #4f46e5")
	ErrEmail        = errors.New("invalid email address")
	ErrPassword     = errors.New("password must be at least 8 characters")
)

const MaxImageSize = 10 * 1024 * 1024 // 10MB

var AllowedImageTypes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func ValidateImage(file *multipart.FileHeader) error {
	if file == nil {
		return ErrFileRequired
	}

	if file.Size > MaxImageSize {
		return ErrFileSize
	}

	ext := filepath.Ext(strings.ToLower(file.Filename))
	if !AllowedImageTypes[ext] {
		return ErrFileType
	}

	return nil
}

// ValidateColor accepts an empty value or a 3/6 digit hex color.
func ValidateColor(c string) error {
	if c == "" || hexColor.MatchString(c) {
		return nil
	}
	return ErrColor
}

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrEmail
	}
	return nil
}

func ValidatePassword(p string) error {
	if len(p) < 8 {
		return ErrPassword
	}
	return nil
}
