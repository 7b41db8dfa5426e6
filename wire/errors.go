package wire

import (
	"errors"
	"fmt"

	"github.com/maxpert/livefeed/errs"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ToGQLError renders err as a GraphQL error carrying its code in
// extensions.code. Internal errors hide their message.
func ToGQLError(err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}

	code := errs.CodeOf(err)
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) && e.Err != nil {
		msg = e.Err.Error()
	}
	if code == errs.CodeInternal {
		msg = "internal server error"
	}
	return &gqlerror.Error{
		Message:    msg,
		Extensions: map[string]interface{}{"code": string(code)},
	}
}

// FromGQLErrors converts a GraphQL error list received from the server into
// an *errs.Error. The first error determines the code.
func FromGQLErrors(list gqlerror.List) error {
	if len(list) == 0 {
		return nil
	}
	first := list[0]
	code := errs.CodeInternal
	if raw, ok := first.Extensions["code"].(string); ok && raw != "" {
		code = errs.Code(raw)
	}
	err := errors.New(first.Message)
	if len(list) > 1 {
		err = fmt.Errorf("%s (and %d more errors)", first.Message, len(list)-1)
	}
	return errs.New(code, "", err)
}
