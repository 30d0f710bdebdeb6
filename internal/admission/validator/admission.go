package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"turnstile/pkg/logger"
	"turnstile/pkg/model"

	"github.com/go-playground/validator/v10"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details flattens the errors for an API error response.
func (v ValidationErrors) Details() map[string]any {
	details := make(map[string]any, len(v))
	for _, err := range v {
		details[err.Field] = err.Message
	}
	return details
}

type AdmissionValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewAdmissionValidator(log *logger.Logger) *AdmissionValidator {
	v := validator.New()

	if err := v.RegisterValidation("identifier", validateIdentifier); err != nil {
		log.Fatal("Failed to register 'identifier' validator",
			"error", err,
		)
	}

	log.Debug("Admission validator initialized successfully")

	return &AdmissionValidator{
		validate: v,
		logger:   log,
	}
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func (v *AdmissionValidator) ValidateJoin(req *model.JoinRequest) error {
	return v.check(req)
}

func (v *AdmissionValidator) ValidateRelease(req *model.ReleaseRequest) error {
	return v.check(req)
}

func (v *AdmissionValidator) ValidateCommit(req *model.CommitRequest) error {
	return v.check(req)
}

func (v *AdmissionValidator) ValidatePayment(msg *model.PaymentSucceeded) error {
	return v.check(msg)
}

func (v *AdmissionValidator) ValidateEvent(event *model.EventCapacity) error {
	return v.check(event)
}

// ValidateID checks a single path identifier such as an event or ticket id.
func (v *AdmissionValidator) ValidateID(field, id string) error {
	if err := v.validate.Var(id, "required,max=128,identifier"); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			translated := v.translateValidationErrors(validationErrs)
			for i := range translated {
				translated[i].Field = field
				translated[i].Message = strings.Replace(translated[i].Message, "value", field, 1)
			}
			return translated
		}
		return err
	}
	return nil
}

func (v *AdmissionValidator) check(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *AdmissionValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		field := err.Field()
		if field == "" {
			field = "value"
		}
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "uuid":
			message = fmt.Sprintf("%s must be a valid UUID", field)
		case "identifier":
			message = fmt.Sprintf("%s may contain only letters, digits and . _ : @ -", field)
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   field,
			Message: message,
		})
	}

	return validationErrors
}
