package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (l *BookingLedger) validate(input CreateReservationInput) (domain.Interval, error) {
	verr := &domain.ValidationError{}

	if err := l.validator.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.Interval{}, fmt.Errorf("validate reservation: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), describe(fe))
		}
	}

	iv := domain.NewInterval(input.CheckIn, input.CheckOut)
	if _, missing := verr.Fields["check_in"]; !missing && !input.CheckOut.IsZero() && !iv.Valid() {
		verr.Add("check_out", "must be at least one day after check_in")
	}

	if len(verr.Fields) > 0 {
		return domain.Interval{}, verr
	}
	return iv, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	}
	return "is invalid (" + fe.Tag() + ")"
}
