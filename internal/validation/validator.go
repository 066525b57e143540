package validation

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-guest-lookup/internal/challenge"
)

// MaxImageBytes bounds a single decoded review image.
const MaxImageBytes = 5 << 20

// New returns a configured validator with the custom tags and struct-level
// validations registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// captcha: shaped like a puzzle answer; the session checks the value itself.
	_ = v.RegisterValidation("captcha", func(fl validatorv10.FieldLevel) bool {
		return challenge.Valid(fl.Field().String())
	})

	v.RegisterStructValidation(reviewStructValidation, ReviewRequest{})

	return v
}

// reviewStructValidation rejects images that decode to more than MaxImageBytes.
func reviewStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(ReviewRequest)

	for i, img := range req.Images {
		if base64.StdEncoding.DecodedLen(len(img.Data)) > MaxImageBytes+2 {
			sl.ReportError(req.Images, "images", "Images", "image_size", fmt.Sprintf("image %d exceeds %d bytes", i, MaxImageBytes))
		}
	}
}
