package api

import (
	"github.com/go-playground/validator/v10"
)

var definitionValidator = validator.New()

// Validate checks this definition against its structural constraints: at
// least one step, every step named, iteration counts >= 1 and non-negative
// duration budgets. All violations are reported as ConfigurationError.
func (d *SequenceDefinition) Validate() error {
	if err := definitionValidator.Struct(d); err != nil {
		return &ConfigurationError{Err: err}
	}

	for _, s := range d.Steps {
		if err := s.validate(); err != nil {
			return err
		}
	}

	return nil
}
