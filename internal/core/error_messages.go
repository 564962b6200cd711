package core

// error_messages.go maps technical errors to messages with support codes.
//
// Codes are grouped by area:
//
//	BAT001-BAT004  Batch intake (empty, too large, unknown batch, busy)
//	MAN001-MAN006  Manifest upload (format, CSV, JSON/YAML, missing file, size, images)
//	VAL001-VAL005  Row validation (identifier, ISBN, quantity, condition, length)
//	ENR001-ENR003  Enrichment (all providers failed, circuit open, bad payload)
//	PLC001         Placement (no shelf space could be reserved)
//	DB001-DB005    Storage (duplicates, connectivity, timeouts, deadlocks)
//	REQ001-REQ004  Requests (cancelled, timed out, bad filter, rate limited)
//	ERR000         Anything else

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// UserMessage contains a user-friendly error message with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is checked in order; the first substring match wins.
var errorPatterns = []errorPattern{
	// Batch intake
	{"batch is empty", UserMessage{"The manifest contains no books", "Add at least one row and upload again", "BAT001"}},
	{"batch too large", UserMessage{"The manifest has too many books", "Split the manifest into batches of at most 1000 rows", "BAT002"}},
	{"batch not found", UserMessage{"Batch not found", "Check the batch id returned by the upload", "BAT003"}},
	{"too many batches", UserMessage{"System is busy processing other batches", "Please wait a moment and try again", "BAT004"}},

	// Manifest parsing
	{"unsupported manifest", UserMessage{"Manifest format is not supported", "Upload a .csv, .json, .yaml or .yml file", "MAN001"}},
	{"invalid csv", UserMessage{"Manifest is not a valid CSV file", "Ensure the file is comma-separated with a header row", "MAN002"}},
	{"invalid manifest", UserMessage{"Manifest could not be parsed", "Check the file is a list of books or {\"books\": [...]}", "MAN003"}},
	{"manifest file is required", UserMessage{"No manifest was uploaded", "Attach the manifest as the \"manifest\" form field", "MAN004"}},
	{"upload exceeds", UserMessage{"The upload is too large", "Keep the manifest and images under the size limit", "MAN005"}},
	{"too many images", UserMessage{"Too many images were attached", "Attach fewer cover images per batch", "MAN006"}},

	// Row validation
	{"at least one identifier", UserMessage{"A row has no identifier", "Give every row an ISBN, UPC, ASIN or title", "VAL001"}},
	{"invalid isbn", UserMessage{"A row has an invalid ISBN", "Check the ISBN digits and check digit", "VAL002"}},
	{"quantity must be", UserMessage{"A row has an invalid quantity", "Use a whole number between 1 and 1000", "VAL003"}},
	{"invalid condition", UserMessage{"A row has an unknown condition", "Use New, Like New, Very Good, Good, Acceptable or Poor", "VAL004"}},
	{"too long", UserMessage{"A row has a field that is too long", "Shorten titles and authors to 255 characters", "VAL005"}},

	// Enrichment and placement
	{"all enrichment providers failed", UserMessage{"Book metadata could not be found", "The book was stored with the manifest data only", "ENR001"}},
	{"circuit open", UserMessage{"A metadata provider is temporarily unavailable", "Processing continues with the next provider", "ENR002"}},
	{"invalid payload", UserMessage{"A metadata provider returned an unreadable answer", "No action needed; the next provider is tried", "ENR003"}},
	{"no shelf space", UserMessage{"No shelf space could be reserved", "Add shelf capacity or free up a section", "PLC001"}},

	// Storage
	{"duplicate key", UserMessage{"A record with this ID already exists", "Retry the upload; a new batch id is generated", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller manifest or try again later", "DB005"}},

	// Request lifecycle
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller manifest or check your connection", "REQ002"}},
	{"invalid status filter", UserMessage{"Unknown status filter", "Use pending, processing, completed or failed", "REQ003"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Unknown errors return a generic message with code ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if apperr.Is(err, apperr.KindValidation) {
		return UserMessage{Message: err.Error(), Action: "Fix the row and upload again", Code: "VAL000"}
	}
	return defaultMessage
}

// FormatUserError returns "Message (Code: X). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing returns true if the error maps to a specific message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
