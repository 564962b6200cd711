package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:        "empty batch",
			err:         ValidateBatchSize(0, 1000),
			wantCode:    "BAT001",
			wantMessage: "The manifest contains no books",
		},
		{
			name:     "oversized batch",
			err:      ValidateBatchSize(1001, 1000),
			wantCode: "BAT002",
		},
		{
			name:     "wrapped busy error",
			err:      fmt.Errorf("accept: %w", ErrTooManyBatches),
			wantCode: "BAT004",
		},
		{
			name:     "isbn validation message",
			err:      errors.New("Row 4: Invalid ISBN format: 123"),
			wantCode: "VAL002",
		},
		{
			name:     "all providers failed",
			err:      errors.New("all enrichment providers failed: openai: timeout"),
			wantCode: "ENR001",
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB002",
			wantMessage: "Unable to connect to database",
		},
		{
			name:     "unknown validation error",
			err:      apperr.New(apperr.KindValidation, "x", "something odd"),
			wantCode: "VAL000",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DUPLICATE KEY value violates"),
			wantCode: "DB001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %v, want %v", got.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %v, want %v", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("query timeout after 30s"))
	want := "Operation timed out (Code: DB005). Try a smaller manifest or try again later"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("IsUserFacing(unknown) = true, want false")
	}
	if !IsUserFacing(errors.New("deadlock detected")) {
		t.Error("IsUserFacing(deadlock) = false, want true")
	}
}
