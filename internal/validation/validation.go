package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	TagNotBlank       = "notblank"
	TagAccountEmail   = "account_email"
	TagLoginEmail     = "login_email"
	TagStrongPassword = "strong_password"

	// bcrypt ignora todo lo que exceda 72 bytes.
	maxPasswordBytes = 72
	passwordSpecials = "@#$%^&+=!"
)

var (
	accountEmailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@([A-Za-z0-9-]+\.)+[A-Za-z]{2,6}$`)
	loginEmailPattern   = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
)

const strongPasswordMessage = "Password must be at least 8 characters long and contain at least one digit, " +
	"one lowercase letter, one uppercase letter, and one special character."

var (
	once     sync.Once
	validate *validator.Validate
)

// FieldErrors mapea el nombre JSON del campo a un mensaje legible.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + f[field]
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct valida s y devuelve FieldErrors con un mensaje por campo.
// El mensaje usa el tag `label` del campo cuando existe.
func ValidateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	typ := reflect.TypeOf(s)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	out := make(FieldErrors, len(ve))
	for _, fe := range ve {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		out[fe.Field()] = messageFor(fe, labelFor(typ, fe))
	}
	return out
}

func labelFor(typ reflect.Type, fe validator.FieldError) string {
	if typ.Kind() == reflect.Struct {
		if f, ok := typ.FieldByName(fe.StructField()); ok {
			if label := f.Tag.Get("label"); label != "" {
				return label
			}
		}
	}
	return fe.Field()
}

func messageFor(fe validator.FieldError, label string) string {
	switch fe.Tag() {
	case TagNotBlank, "required":
		return label + " cannot be blank."
	case TagAccountEmail:
		return "Please provide a valid email address format."
	case TagLoginEmail:
		return "Please provide a valid email address."
	case TagStrongPassword:
		return strongPasswordMessage
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long.", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s.", label, fe.Tag())
	}
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		mustRegister(TagNotBlank, func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		mustRegister(TagAccountEmail, func(fl validator.FieldLevel) bool {
			return accountEmailPattern.MatchString(fl.Field().String())
		})
		mustRegister(TagLoginEmail, func(fl validator.FieldLevel) bool {
			return loginEmailPattern.MatchString(fl.Field().String())
		})
		mustRegister(TagStrongPassword, func(fl validator.FieldLevel) bool {
			return IsStrongPassword(fl.Field().String())
		})
	})
	return validate
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// IsStrongPassword exige al menos 8 caracteres, un digito, una minuscula, una
// mayuscula, un caracter de passwordSpecials y ningun espacio.
func IsStrongPassword(pw string) bool {
	if len(pw) < 8 || len(pw) > maxPasswordBytes {
		return false
	}
	var digit, lower, upper, special bool
	for _, r := range pw {
		switch {
		case unicode.IsSpace(r):
			return false
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	return digit && lower && upper && special
}
