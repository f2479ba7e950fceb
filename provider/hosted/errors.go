package hosted

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/portalauth"
)

// apiError covers both error body shapes the provider uses.
type apiError struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

var codeKinds = map[string]portalauth.ErrorKind{
	"invalid_credentials":          portalauth.KindInvalidCredentials,
	"invalid_grant":                portalauth.KindInvalidCredentials,
	"refresh_token_not_found":      portalauth.KindInvalidCredentials,
	"refresh_token_already_used":   portalauth.KindInvalidCredentials,
	"session_not_found":            portalauth.KindInvalidCredentials,
	"bad_jwt":                      portalauth.KindInvalidCredentials,
	"user_already_exists":          portalauth.KindConflict,
	"email_exists":                 portalauth.KindConflict,
	"weak_password":                portalauth.KindValidation,
	"validation_failed":            portalauth.KindValidation,
	"email_address_invalid":        portalauth.KindValidation,
	"email_address_not_authorized": portalauth.KindValidation,
	"signup_disabled":              portalauth.KindValidation,
	"email_not_confirmed":          portalauth.KindConfirmationPending,
}

// mapError turns a non-2xx provider response into an AuthError. Throttling
// and server faults are network errors whatever the body says.
func mapError(status int, body []byte) *portalauth.AuthError {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	code := firstNonEmpty(apiErr.ErrorCode, apiErr.Error)
	msg := firstNonEmpty(apiErr.Msg, apiErr.ErrorDescription, apiErr.Message, http.StatusText(status))

	if status == http.StatusTooManyRequests || status >= 500 {
		return &portalauth.AuthError{Kind: portalauth.KindNetwork, Code: code, Message: msg}
	}
	if kind, ok := codeKinds[code]; ok {
		return portalauth.NewAuthError(kind, code, msg)
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return portalauth.NewAuthError(portalauth.KindValidation, code, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return portalauth.NewAuthError(portalauth.KindInvalidCredentials, code, msg)
	default:
		return &portalauth.AuthError{Kind: portalauth.KindNetwork, Code: code, Message: msg}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
