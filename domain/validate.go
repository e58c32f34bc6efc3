package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 5000
)

// ListColors are the colours a list may carry.
var ListColors = []string{"GRAY", "RED", "YELLOW", "GREEN", "SKY", "BLUE", "VIOLET", "PINK"}

var labelColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidateTitle trims s and enforces the shared name/title limits.
func ValidateTitle(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if utf8.RuneCountInString(s) > MaxTitleLength {
		return "", fmt.Errorf("%w: %s longer than %d characters", ErrValidation, field, MaxTitleLength)
	}
	return s, nil
}

func ValidateDescription(s string) error {
	if utf8.RuneCountInString(s) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", ErrValidation, MaxDescriptionLength)
	}
	return nil
}

// ValidateListColor accepts an empty colour or one of ListColors.
func ValidateListColor(c string) (string, error) {
	if c == "" {
		return "", nil
	}
	up := strings.ToUpper(c)
	for _, allowed := range ListColors {
		if up == allowed {
			return up, nil
		}
	}
	return "", fmt.Errorf("%w: unknown list color %q", ErrValidation, c)
}

func ValidateLabelColor(c string) error {
	if !labelColorRe.MatchString(c) {
		return fmt.Errorf("%w: label color must be #RRGGBB", ErrValidation)
	}
	return nil
}

func ValidateComment(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: comment cannot be empty", ErrValidation)
	}
	return text, nil
}
