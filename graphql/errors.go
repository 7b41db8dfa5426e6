package graphql

import (
	"errors"
	"strings"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/wire"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// RequestError reports a request that failed parsing or validation.
type RequestError struct {
	Errors gqlerror.List
}

func (e *RequestError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func badRequest(msg string) *RequestError {
	return &RequestError{Errors: gqlerror.List{{
		Message:    msg,
		Extensions: map[string]interface{}{"code": string(errs.CodeBadRequest)},
	}}}
}

// withCode returns err as a GraphQL error with extensions.code set, keeping
// any code it already has.
func withCode(err error, code errs.Code) *gqlerror.Error {
	var ge *gqlerror.Error
	if !errors.As(err, &ge) {
		ge = &gqlerror.Error{Message: err.Error()}
	}
	if ge.Extensions == nil {
		ge.Extensions = map[string]interface{}{}
	}
	if _, ok := ge.Extensions["code"]; !ok {
		ge.Extensions["code"] = string(code)
	}
	return ge
}

// ErrorList renders any error returned by this package or the executor as a
// GraphQL error list.
func ErrorList(err error) gqlerror.List {
	if err == nil {
		return nil
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Errors
	}
	return gqlerror.List{wire.ToGQLError(err)}
}

// IsRequestError reports whether err is a parse or validation failure.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
