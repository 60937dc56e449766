package schema

import "fmt"

// Validate checks data against the schema and reports every failing field,
// in field name order. Fields the schema does not declare are allowed.
func Validate(s Schema, data map[string]any) error {
	if len(s) == 0 {
		return nil
	}

	var errs []error
	for _, key := range sortedKeys(s) {
		t := s[key]
		value, ok := data[key]
		if !ok {
			if !IsOptional(t) {
				errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			}
			continue
		}
		if err := t.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: err.Error(), Value: value})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// ValidateInput checks a whole flow input. With a non-empty schema the input
// must be an object; nil counts as an empty object.
func ValidateInput(s Schema, input any) error {
	if len(s) == 0 {
		return nil
	}
	var data map[string]any
	switch v := input.(type) {
	case nil:
	case map[string]any:
		data = v
	default:
		return fmt.Errorf("expected an object, got %T", input)
	}
	return Validate(s, data)
}
