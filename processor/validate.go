package processor

import (
	"fmt"
	"strings"

	"optionflow/internal/wire"
)

// KeyStyle selects which key convention the validator accepts.
type KeyStyle string

const (
	KeyStyleEither      KeyStyle = "either"
	KeyStyleCamel       KeyStyle = "camel"
	KeyStyleCapitalized KeyStyle = "capitalized"
)

// ParseKeyStyle resolves a configured key style; empty means either.
func ParseKeyStyle(s string) (KeyStyle, error) {
	switch KeyStyle(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyStyleEither:
		return KeyStyleEither, nil
	case KeyStyleCamel, "lower_camel", "lowercamel":
		return KeyStyleCamel, nil
	case KeyStyleCapitalized, "pascal":
		return KeyStyleCapitalized, nil
	default:
		return "", fmt.Errorf("unsupported key style '%s'", s)
	}
}

// RequiredFields must be present and non-empty for a record to be stored.
var RequiredFields = []string{"id", "timestamp", "symbol", "price", "quantity", "type"}

// ValidationError lists the required fields a record lacks.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trade is missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Validate checks rec carries every required field. Zero numbers and false
// are present values; only absent, nil and empty strings count as missing.
func Validate(rec wire.Record, style KeyStyle) error {
	var missing []string
	for _, name := range RequiredFields {
		v, ok := lookup(rec, name, style)
		if !ok || isEmpty(v) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func lookup(rec wire.Record, name string, style KeyStyle) (any, bool) {
	switch style {
	case KeyStyleCamel:
		return rec.Get(name)
	case KeyStyleCapitalized:
		return rec.Get(wire.Capitalize(name))
	default:
		return rec.Lookup(name)
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	default:
		return false
	}
}
