package moderation

import (
	"chat-hub/errors"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

func newTestModerator(t *testing.T, words ...string) *Moderator {
	t.Helper()
	mod, err := NewModerator(words, replacementChar, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	return mod
}

func TestModerator_Censor(t *testing.T) {
	mod := newTestModerator(t, "idiot", "moron", "crétin")

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "word inside a sentence",
			input:    "you idiot",
			expected: "you *****",
			words:    []string{"idiot"},
		},
		{
			name:     "every occurrence",
			input:    "idiot idiot",
			expected: "***** *****",
			words:    []string{"idiot", "idiot"},
		},
		{
			name:     "leet speak split by dots",
			input:    "M.0.r.0.n !",
			expected: "********* !",
			words:    []string{"moron"},
		},
		{
			name:     "upper case with accent",
			input:    "Quel CRÉTIN",
			expected: "Quel ******",
			words:    []string{"crétin"},
		},
		{
			name:     "trailing punctuation is kept",
			input:    "moron,",
			expected: "*****,",
			words:    []string{"moron"},
		},
		{
			name:     "clean sentence",
			input:    "Bonjour à tous",
			expected: "Bonjour à tous",
		},
		{
			name: "empty content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestModerator_Noise_Patterns_Are_Skipped(t *testing.T) {
	req := require.New(t)

	// Given a list polluted with punctuation only entries
	mod := newTestModerator(t, "...", "--", "", "moron")

	// Then real words are still censored
	content, words := mod.Censor("hey moron")
	req.Equal("hey *****", content)
	req.Equal([]string{"moron"}, words)

	// And punctuation in messages is left alone
	content, words = mod.Censor("wait...")
	req.Equal("wait...", content)
	req.Nil(words)
}

func TestModerator_Only_Noise_Words(t *testing.T) {
	req := require.New(t)

	_, err := NewModerator([]string{"...", " "}, replacementChar, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.ErrorIs(err, errors.ErrEmptyWords)
}
