package aoftypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator is shared across every resource's Validate() method: a
// first-pass check of simple, tag-declared invariants (required fields,
// bounds) before the hand-written cross-field checks that need more than
// a tag can express (conditional requirements, cross-referencing another
// field). Grounded on the pack's struct-tag validation idiom rather than
// hand-rolling field presence checks per resource.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validateTags runs v's `validate` struct tags and turns any failure into
// a single readable message naming every offending field.
func validateTags(v any) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
		}
	} else {
		fields = append(fields, err.Error())
	}
	return &tagValidationError{message: strings.Join(fields, "; ")}
}

type tagValidationError struct {
	message string
}

func (e *tagValidationError) Error() string { return e.message }
