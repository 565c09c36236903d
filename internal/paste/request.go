package paste

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxTTLSeconds caps ttl_seconds at roughly a century so deadlines stay
// representable as Unix nanoseconds in every backend.
const MaxTTLSeconds = 100 * 365 * 24 * 60 * 60

// CreateRequest is the decoded form of a create call, shared by the JSON and
// form decoders. Nil pointers mean the option was not supplied.
type CreateRequest struct {
	Content    string `json:"content" validate:"required"`
	TTLSeconds *int64 `json:"ttl_seconds" validate:"omitempty,gte=0,lte=3153600000"`
	MaxViews   *int64 `json:"max_views" validate:"omitempty,gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request against the size limit. maxBytes <= 0 disables
// the size check.
func (r CreateRequest) Validate(maxBytes int) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return fmt.Errorf("validate request: %w", err)
	}
	if !utf8.ValidString(r.Content) {
		return &InvalidArgumentError{Field: "content", Reason: "must be valid UTF-8 text"}
	}
	if maxBytes > 0 && len(r.Content) > maxBytes {
		return &InvalidArgumentError{Field: "content", Reason: fmt.Sprintf("exceeds %d byte limit", maxBytes)}
	}
	return nil
}

func fieldError(fe validator.FieldError) *InvalidArgumentError {
	switch fe.Tag() {
	case "required":
		return &InvalidArgumentError{Field: fe.Field(), Reason: "must not be empty"}
	case "gte":
		return &InvalidArgumentError{Field: fe.Field(), Reason: "must be a non-negative integer"}
	case "lte":
		return &InvalidArgumentError{Field: fe.Field(), Reason: "must be at most " + fe.Param()}
	default:
		return &InvalidArgumentError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"}
	}
}

// ParseOptionalInt parses a decimal option as supplied by a form field or a
// JSON string. Blank input means absent and yields nil.
func ParseOptionalInt(field, raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &InvalidArgumentError{Field: field, Reason: "must be a non-negative integer"}
	}
	return &v, nil
}
