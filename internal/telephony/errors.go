package telephony

import (
	"errors"
	"fmt"
	"net/http"
)

// Twilio error code for invalid credentials.
const codeAuthenticationFailed = 20003

// Error represents a Twilio API error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// IsAuthError reports whether err is a credential rejection from the
// gateway. Callers surface these as a distinct technical-error category
// since retrying cannot help.
func IsAuthError(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAuthenticationFailed || apiErr.Status == http.StatusUnauthorized
}
