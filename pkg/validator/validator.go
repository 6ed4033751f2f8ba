package validator

import (
	"errors"
	"regexp"
)

var (
	TopicValidator     = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	SessionIDValidator = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingField    = errors.New("missing required field")
)

const maxSessionIDLength = 64

// ValidateTopic checks a Kafka topic name against the broker's naming rules.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrMissingField
	}
	if len(topic) > 249 {
		return ErrInvalidInput
	}
	if topic == "." || topic == ".." {
		return ErrInvalidInput
	}
	if !TopicValidator.MatchString(topic) {
		return ErrInvalidInput
	}
	return nil
}

// ValidateSessionID rejects ids no generator could have produced.
func ValidateSessionID(id string) error {
	if id == "" {
		return ErrMissingField
	}
	if len(id) > maxSessionIDLength {
		return ErrInvalidInput
	}
	if !SessionIDValidator.MatchString(id) {
		return ErrInvalidInput
	}
	return nil
}
