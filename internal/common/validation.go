package common

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	objectIDRegex = regexp.MustCompile(`^[0-9a-f]{24}$`)
	groupIDRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

func ValidateUserID(field string, id int64) error {
	if id <= 0 {
		return Invalid("%s must be a positive user id", field)
	}
	return nil
}

// ValidatePair checks the two sides of a direct conversation.
func ValidatePair(a, b int64) error {
	if err := ValidateUserID("sender", a); err != nil {
		return err
	}
	if err := ValidateUserID("recipient", b); err != nil {
		return err
	}
	if a == b {
		return Invalid("cannot open a conversation with yourself")
	}
	return nil
}

func ValidateMessageID(id string) error {
	if !objectIDRegex.MatchString(strings.ToLower(strings.TrimSpace(id))) {
		return Invalid("malformed message id %q", id)
	}
	return nil
}

func ValidateGroupID(id string) error {
	if !groupIDRegex.MatchString(id) {
		return Invalid("malformed group id %q", id)
	}
	return nil
}

// ValidateContent requires text or media and caps the text length in runes.
func ValidateContent(content, mediaURL string, maxLen int) error {
	if strings.TrimSpace(content) == "" && strings.TrimSpace(mediaURL) == "" {
		return Invalid("message must carry content or media")
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return Invalid("message content exceeds %d characters", maxLen)
	}
	return nil
}
