package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"finpulse/internal/types"
)

// Validator wraps go-playground/validator with the engine's domain rules.
// Handlers run request structs through ValidateStruct after decoding;
// failures come back as *types.AppError ready for the Error response
// helper.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags used by
// request structs:
//   - currency:     a supported ISO 4217 display currency
//   - frequency:    a recurrence cadence (daily/weekly/monthly/yearly)
//   - channel_type: a known delivery channel (telegram/webhook/email)
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// Registration only fails for blank tags or nil funcs; ours are
	// static, so the errors are unreachable.
	_ = v.RegisterValidation("currency", validateCurrency)
	_ = v.RegisterValidation("frequency", validateFrequency)
	_ = v.RegisterValidation("channel_type", validateChannelType)

	// Report field names from json tags so error details match the wire
	// format clients actually sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

func validateCurrency(fl validator.FieldLevel) bool {
	return types.ValidCurrency(fl.Field().String())
}

func validateFrequency(fl validator.FieldLevel) bool {
	return types.Frequency(fl.Field().String()).Valid()
}

func validateChannelType(fl validator.FieldLevel) bool {
	switch types.ChannelType(fl.Field().String()) {
	case types.ChannelTelegram, types.ChannelWebhook, types.ChannelEmail:
		return true
	}
	return false
}

// ValidateStruct validates req's struct tags and translates failures into
// a single *types.AppError. The error code reflects the first failing
// rule; Details lists every violated field with a short reason.
func (v *Validator) ValidateStruct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Programmer error: something other than a struct was passed.
		v.logger.Error("validator invoked with non-struct value",
			slog.String("error", err.Error()),
		)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "request validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = violationMessage(fe)
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		fmt.Sprintf("invalid value for field '%s'", first.Field()),
		err,
		details,
	)
}

// codeForTag maps a validation tag to the error code clients key on.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "currency":
		return types.ErrCodeValidationInvalidCurrency
	case "frequency":
		return types.ErrCodeValidationInvalidFrequency
	case "channel_type":
		return types.ErrCodeValidationInvalidChannel
	case "url", "https":
		return types.ErrCodeValidationInvalidWebhook
	default:
		return types.ErrCodeValidationMissingField
	}
}

// violationMessage renders one field error as a short human-readable
// reason for the Details map.
func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "currency":
		return "is not a supported currency"
	case "frequency":
		return "must be one of daily, weekly, monthly, yearly"
	case "channel_type":
		return "must be one of telegram, webhook, email"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed validation rule '" + fe.Tag() + "'"
	}
}
