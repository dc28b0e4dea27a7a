// Package validator provides small composable value checks used when
// accepting input on the operator surface.
package validator

import (
	"strings"

	"golang.org/x/exp/constraints"
)

// ValidatorFunc checks a single value and reports what is wrong with it.
type ValidatorFunc[T any] func(T) error

// Validate runs the validators in order and returns the first failure.
func Validate[T any](data T, validators ...ValidatorFunc[T]) error {
	for _, validator := range validators {
		if err := validator(data); err != nil {
			return err
		}
	}
	return nil
}

func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

func Between[T constraints.Ordered](value, min, max T) bool {
	return value >= min && value <= max
}

func Positive[T constraints.Signed](value T) bool {
	return value > 0
}
