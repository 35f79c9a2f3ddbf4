package transport

import (
	"net/http"

	"github.com/goliatone/go-changefeed/core"
	goerrors "github.com/goliatone/go-errors"
)

// failureCodes pairs each category the transport reports with its HTTP status
// and changefeed text code. Unlisted categories report as internal.
var failureCodes = map[goerrors.Category]struct {
	status   int
	textCode string
}{
	goerrors.CategoryBadInput:   {http.StatusBadRequest, core.ErrorCodeBadInput},
	goerrors.CategoryValidation: {http.StatusBadRequest, core.ErrorCodeBadInput},
	goerrors.CategoryExternal:   {http.StatusBadGateway, core.ErrorCodeExternal},
	goerrors.CategoryRateLimit:  {http.StatusTooManyRequests, core.ErrorCodeRateLimited},
	goerrors.CategoryInternal:   {http.StatusInternalServerError, core.ErrorCodeInternal},
}

// failure builds the transport's error envelope, wrapping cause when set.
func failure(category goerrors.Category, message string, cause error, metadata map[string]any) error {
	codes, ok := failureCodes[category]
	if !ok {
		codes = failureCodes[goerrors.CategoryInternal]
	}
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(codes.status).WithTextCode(codes.textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}
