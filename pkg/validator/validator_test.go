package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  error
	}{
		{"session-events", nil},
		{"sessions.v1_events", nil},
		{"", ErrMissingField},
		{"..", ErrInvalidInput},
		{"bad topic", ErrInvalidInput},
		{strings.Repeat("a", 250), ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.ErrorIs(t, ValidateTopic(tt.topic), tt.want)
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"0190a6d4-8c4e-7b6a-9f10-3c2d1e0f4a5b", nil},
		{"", ErrMissingField},
		{"../etc", ErrInvalidInput},
		{"a b", ErrInvalidInput},
		{strings.Repeat("a", 65), ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.ErrorIs(t, ValidateSessionID(tt.id), tt.want)
		})
	}
}
