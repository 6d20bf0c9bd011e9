// internal/utils/validation_test.go
package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVIN(t *testing.T) {
	testCases := []struct {
		vin      string
		expected bool
	}{
		{"WBA2D520X05E20424", true},
		{"1HGCM82633A004352", true},
		{"", false},
		{"WBA2D520X05E2042", false},   // 16 chars
		{"WBA2D520X05E204245", false}, // 18 chars
		{"WBA2D520X05E2042O", false},  // letter O
		{"IBA2D520X05E20424", false},  // letter I
		{"wba2d520x05e20424", false},  // not normalised
	}

	for _, tc := range testCases {
		t.Run(tc.vin, func(t *testing.T) {
			err := ValidateVIN(tc.vin)
			if tc.expected {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidVIN)
			}
		})
	}
}

func TestValidateVINErrorCode(t *testing.T) {
	err := ValidateVIN("SHORT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidVIN)
	assert.Equal(t, ErrCodeInvalidVIN, CodeOf(err))
}

func TestNormalizeVIN(t *testing.T) {
	testCases := map[string]string{
		" wba2d520x05e20424 ":   "WBA2D520X05E20424",
		"WBA-2D5-20X-05E-20424": "WBA2D520X05E20424",
		"WBA 2D520X05E20424":    "WBA2D520X05E20424",
	}
	for in, want := range testCases {
		assert.Equal(t, want, NormalizeVIN(in), "NormalizeVIN(%q)", in)
	}
}

func TestStructuredErrorWrapping(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(cause, ErrCodeUpstreamAuth, "proxy API rejected the request")

	assert.ErrorIs(t, err, ErrUpstreamAuth)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrChallengeUnresolved)
	assert.Equal(t, ErrCodeUpstreamAuth, CodeOf(fmt.Errorf("search: %w", err)))
	assert.Equal(t, ErrCodeInternal, CodeOf(cause))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o deadline reached" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRetryableError(timeoutError{}))
	assert.False(t, IsRetryableError(errors.New("x509: certificate signed by unknown authority")))
	assert.False(t, IsRetryableError(context.Canceled))

	retryable := NewError(ErrCodeNetworkFailure, "read failed").WithRetryable(true).Build()
	assert.True(t, IsRetryableError(fmt.Errorf("fetch: %w", retryable)))

	final := NewError(ErrCodeNetworkFailure, "response body too large").Build()
	assert.False(t, IsRetryableError(final))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "", TruncateString("abcdef", 0))
}

func TestTruncateStringKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a byte cut at 6 would land inside the third one
	s := "éééééééé"
	for maxLen := 1; maxLen < len(s); maxLen++ {
		got := TruncateString(s, maxLen)
		assert.True(t, utf8.ValidString(got), "maxLen %d produced invalid UTF-8 %q", maxLen, got)
		assert.LessOrEqual(t, len(got), maxLen)
	}
	assert.Equal(t, "éé...", TruncateString(s, 8))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250_000_000))
	assert.Equal(t, "1.5s", FormatDuration(1_500_000_000))
}
