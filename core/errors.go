package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeValidation  = "CHANGEFEED_VALIDATION_FAILED"
	ErrorCodeSourceFetch = "CHANGEFEED_SOURCE_FETCH_FAILED"
	ErrorCodeDispatch    = "CHANGEFEED_DISPATCH_FAILED"
	ErrorCodePersist     = "CHANGEFEED_PERSIST_FAILED"
	ErrorCodeStateLoad   = "CHANGEFEED_STATE_LOAD_FAILED"
	ErrorCodeBadInput    = "CHANGEFEED_BAD_INPUT"
	ErrorCodeExternal    = "CHANGEFEED_EXTERNAL_FAILURE"
	ErrorCodeRateLimited = "CHANGEFEED_RATE_LIMITED"
	ErrorCodeInternal    = "CHANGEFEED_INTERNAL_ERROR"
)

// NewValidationError reports a persisted state blob that does not have the
// id to marker shape. It is never downgraded to "no previous state".
func NewValidationError(cause error, key string) *goerrors.Error {
	return wrapWithCode(
		cause,
		goerrors.CategoryValidation,
		fmt.Sprintf("core: persisted state %q failed validation", key),
		http.StatusUnprocessableEntity,
		ErrorCodeValidation,
		map[string]any{"state_key": key},
	)
}

func NewSourceFetchError(cause error, fetched int) *goerrors.Error {
	return wrapWithCode(
		cause,
		goerrors.CategoryExternal,
		"core: collection source listing failed",
		http.StatusBadGateway,
		ErrorCodeSourceFetch,
		map[string]any{"fetched": fetched},
	)
}

// NewDispatchError reports a batch in which at least one emission failed.
func NewDispatchError(cause error, stats DispatchStats) *goerrors.Error {
	return wrapWithCode(
		cause,
		goerrors.CategoryExternal,
		fmt.Sprintf("core: %d of %d notifications failed", stats.Failed, stats.Attempted),
		http.StatusBadGateway,
		ErrorCodeDispatch,
		map[string]any{
			"attempted": stats.Attempted,
			"delivered": stats.Delivered,
			"skipped":   stats.Skipped,
			"failed":    stats.Failed,
		},
	)
}

func NewPersistError(cause error, key string) *goerrors.Error {
	return wrapWithCode(
		cause,
		goerrors.CategoryInternal,
		fmt.Sprintf("core: persist state %q failed", key),
		http.StatusInternalServerError,
		ErrorCodePersist,
		map[string]any{"state_key": key},
	)
}

// NewStateLoadError reports a blob store read failure. A missing blob is not
// an error and never reaches this constructor.
func NewStateLoadError(cause error, key string) *goerrors.Error {
	return wrapWithCode(
		cause,
		goerrors.CategoryInternal,
		fmt.Sprintf("core: load state %q failed", key),
		http.StatusInternalServerError,
		ErrorCodeStateLoad,
		map[string]any{"state_key": key},
	)
}

func newBadInputError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeBadInput)
}

// NewFieldError reports an invalid command or query message field. scope
// prefixes the message, for example "command" or "query".
func NewFieldError(scope, field, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeBadInput).
		WithSeverity(goerrors.SeverityError)
}

// NewUnboundStateKeyError rejects a message addressed to a state key the
// handler's changefeed does not own.
func NewUnboundStateKeyError(scope, key string) *goerrors.Error {
	return newBadInputError(fmt.Sprintf("%s: no changefeed bound to state key %s", scope, key)).
		WithMetadata(map[string]any{"state_key": key})
}

// NewMissingDependencyError reports a handler built without its service.
func NewMissingDependencyError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCodeInternal)
}

func IsValidationError(err error) bool {
	return hasTextCode(err, ErrorCodeValidation)
}

func IsSourceFetchError(err error) bool {
	return hasTextCode(err, ErrorCodeSourceFetch)
}

func IsDispatchError(err error) bool {
	return hasTextCode(err, ErrorCodeDispatch)
}

func IsPersistError(err error) bool {
	return hasTextCode(err, ErrorCodePersist)
}

func IsStateLoadError(err error) bool {
	return hasTextCode(err, ErrorCodeStateLoad)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if hasTextCode(inner, code) {
				return true
			}
		}
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

func wrapWithCode(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	// The envelope owns category and codes; source stays whole in the chain.
	err := goerrors.New(message, category)
	err.Source = source
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureServiceErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryBadInput).WithTextCode(ErrorCodeBadInput),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorCodeBadInput
	case goerrors.CategoryValidation:
		return ErrorCodeValidation
	case goerrors.CategoryExternal:
		return ErrorCodeExternal
	case goerrors.CategoryRateLimit:
		return ErrorCodeRateLimited
	default:
		return ErrorCodeInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
