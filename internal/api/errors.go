package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// errorFromResponse converts a non-2xx response into a typed error. The
// body's envelope message is preserved where the server sent one.
func errorFromResponse(resp *http.Response) error {
	message := fmt.Sprintf("remote returned %d", resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && len(body) > 0 {
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeAuth, message)
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, message)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict:
		return pkgerrors.New(pkgerrors.CodeValidation, message)
	case resp.StatusCode >= 500:
		return pkgerrors.New(pkgerrors.CodeNetwork, message)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, message)
	}
}
