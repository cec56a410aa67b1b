package openai

import (
	"errors"
	"net/http"

	"github.com/flemzord/memsync/internal/resilience"
	"github.com/sashabaranov/go-openai"
)

// classify tags err with the resilience kind matching the HTTP status the
// API answered with. Transport errors are left to resilience.KindOf.
func classify(err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return err
	}
	return resilience.Tag(statusKind(status), err)
}

func statusKind(status int) resilience.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return resilience.KindPermission
	case status == http.StatusNotFound:
		return resilience.KindNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return resilience.KindTimeout
	case status >= 500:
		return resilience.KindConnection
	case status >= 400:
		return resilience.KindValidation
	default:
		return resilience.KindUnknown
	}
}
