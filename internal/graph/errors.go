package graph

import (
	"fmt"
	"strings"
)

// APIError is a decoded Graph API error envelope
type APIError struct {
	Code       int
	Subcode    int
	Message    string
	FBTraceID  string
	HTTPStatus int
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error %d (subcode %d): %s", e.Code, e.Subcode, e.Message)
}

// TokenError is an APIError classified as an invalid/expired token.
// The pipeline treats it as fatal-to-connection unless a fallback token
// can take over.
type TokenError struct {
	APIError
}

// Error implements the error interface
func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid access token (code %d, subcode %d): %s", e.Code, e.Subcode, e.Message)
}

// Subcodes that always mean the token is no longer usable
var tokenInvalidSubcodes = map[int]bool{
	458: true, // app not installed
	459: true, // user checkpointed
	460: true, // password changed
	463: true, // token expired
	464: true, // unconfirmed user
	467: true, // token invalidated
}

var tokenInvalidPhrases = []string{
	"token is invalid",
	"session has been invalidated",
	"access token is invalid",
	"error validating access token",
	"has not authorized application",
	"permissions are not available",
}

// IsTokenInvalid classifies a Graph error payload as a token/permission
// failure. Gates whether a failure is fatal to the stored connection.
func IsTokenInvalid(code, subcode int, message string) bool {
	if code == 190 {
		return true
	}
	if code == 100 && subcode == 33 {
		return true
	}
	if tokenInvalidSubcodes[subcode] {
		return true
	}
	lower := strings.ToLower(message)
	for _, phrase := range tokenInvalidPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// classify wraps an APIError as a TokenError when it matches the
// token-invalid taxonomy.
func classify(e *APIError) error {
	if IsTokenInvalid(e.Code, e.Subcode, e.Message) {
		return &TokenError{APIError: *e}
	}
	return e
}

// apiErrorBody is the wire shape of a Graph error object
type apiErrorBody struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

func (b *apiErrorBody) toAPIError(httpStatus int) *APIError {
	return &APIError{
		Code:       b.Code,
		Subcode:    b.ErrorSubcode,
		Message:    b.Message,
		FBTraceID:  b.FBTraceID,
		HTTPStatus: httpStatus,
	}
}
