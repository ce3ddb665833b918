package auth

import (
	"encoding/xml"
	"strings"
)

// AuthError is an authentication failure carrying the S3 error code and
// message that AuthMiddleware writes into its XML error response.
type AuthError struct {
	Code    string
	Message string
}

// NewAuthError returns an AuthError with the given S3 error code and message.
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// Error returns Message with its first letter lower-cased, as Go error
// strings are; Message itself keeps S3's capitalisation.
func (e *AuthError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return strings.ToLower(e.Message[:1]) + e.Message[1:]
}

// Error represents an S3 error response
type Error struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}
