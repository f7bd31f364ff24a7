package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Strob0t/MailGuard/internal/domain"
)

// MaxBodyBytes caps the email body handed to signal sources.
const MaxBodyBytes = 1 << 20

// requestValidate checks the struct tags of Request. Initialized in init()
// with the custom body size check.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxBodyBytes on byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxBodyBytes
}

// Validate checks the request before it is fanned out. Errors wrap
// domain.ErrValidation and name every offending field.
func (r *Request) Validate() error {
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: invalid request: %s", domain.ErrValidation, strings.Join(fields, "; "))
}
