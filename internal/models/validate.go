package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	apperrors "github.com/natours/api/pkg/errors"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names so messages match request bodies
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(tourRules, Tour{})
	return v
}

func tourRules(sl validator.StructLevel) {
	t := sl.Current().Interface().(Tour)
	if t.PriceDiscount != nil && *t.PriceDiscount >= t.Price {
		sl.ReportError(*t.PriceDiscount, "priceDiscount", "PriceDiscount", "ltprice", "")
	}
}

// Validate checks v against its declared constraints. Failures come back
// as a VALIDATION_ERROR listing every violated rule.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, message(fe))
	}
	return apperrors.NewAppError(apperrors.CodeValidation,
		"Invalid input data. "+strings.Join(msgs, ". "), err)
}

func message(fe validator.FieldError) string {
	field := fe.Field()

	switch {
	case fe.Tag() == "eqfield" && fe.Param() == "Password":
		return "Passwords are not the same!"
	case fe.Tag() == "ltprice":
		return fmt.Sprintf("Discount price (%v) should be below regular price", fe.Value())
	case fe.Tag() == "email":
		return "Please provide a valid email"
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must have at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must have at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be above %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be %s or above", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be %s or below", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s is either: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", field)
	case "len":
		return fmt.Sprintf("%s must have exactly %s elements", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
