// Package record holds the Record entity and the in-memory store that assigns
// record ids.
package record

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maxpert/livefeed/errs"
)

// TopicCreated is the hub topic every newly appended record is published on.
const TopicCreated = "record.created"

// DefaultMaxContentLength bounds record content when no limit is configured.
const DefaultMaxContentLength = 4096

var (
	ErrEmptyContent    = errors.New("content must not be empty")
	ErrContentTooLarge = errors.New("content exceeds maximum length")
)

// Record is a single immutable text record. IDs are assigned by the Store.
type Record struct {
	ID      uint64 `json:"id,string" msgpack:"id"`
	Content string `json:"content" msgpack:"content"`
}

// CreateInput is the input of the create operation.
type CreateInput struct {
	Content string `json:"content"`
}

// Validate checks the input against the store's content rules.
// maxLen <= 0 disables the length check.
func (in CreateInput) Validate(maxLen int) error {
	if strings.TrimSpace(in.Content) == "" {
		return errs.InvalidInput("createRecord", ErrEmptyContent)
	}
	if maxLen > 0 && utf8.RuneCountInString(in.Content) > maxLen {
		return errs.InvalidInput("createRecord",
			fmt.Errorf("%w (%d characters)", ErrContentTooLarge, maxLen))
	}
	return nil
}
