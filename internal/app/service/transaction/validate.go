package transaction

import (
	"fmt"
	"github.com/go-playground/validator/v10"
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"reflect"
	"strings"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return model.Currency(fl.Field().String()).Supported()
	})
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
		return model.Direction(fl.Field().String()).Valid()
	})
	return v
}

// check runs struct validation and merges the result into ve.
func check(v *validator.Validate, s interface{}, ve *apperr.ValidationError) {
	err := v.Struct(s)
	if err == nil {
		return
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		ve.Add("", err.Error(), "")
		return
	}

	for _, fe := range errs {
		ve.Add(fieldPath(fe), message(fe), fmt.Sprintf("%v", fe.Value()))
	}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "currency":
		return "unsupported currency"
	case "status":
		return "must be one of: pending, completed, failed"
	case "direction":
		return "must be one of: sent, received"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " items"
		}
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	}
	return "failed on " + fe.Tag()
}
