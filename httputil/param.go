// Package httputil holds typed helpers for reading HTTP query
// parameters.
package httputil

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/enverbisevac/eventbox/validator"
)

// ParamTypes are the value types a query parameter can decode into.
type ParamTypes interface {
	~string | ~int | ~int64 | ~bool | ~float64
}

// FromConstraint is anything a query parameter can be read from.
type FromConstraint interface {
	*http.Request | *url.URL | url.Values
}

// QueryParamOrDefault reads and validates a query parameter, falling
// back to defValue when the parameter is absent or invalid.
func QueryParamOrDefault[T ParamTypes, K FromConstraint](from K, param string, defValue T, validators ...validator.ValidatorFunc[T]) T {
	value, err := QueryParam(from, param, validators...)
	if err != nil {
		return defValue
	}
	return value
}

// QueryParam reads a query parameter, converts it to T, and runs the
// validators against the converted value.
func QueryParam[T ParamTypes, K FromConstraint](from K, param string, validators ...validator.ValidatorFunc[T]) (T, error) {
	var (
		zero   T
		result any
		err    error
		values url.Values
	)

	switch t := any(from).(type) {
	case *http.Request:
		values = t.URL.Query()
	case *url.URL:
		values = t.Query()
	case url.Values:
		values = t
	}

	paramValues, ok := values[param]
	if !ok || len(paramValues) == 0 {
		return zero, fmt.Errorf("%s param not found in query", param)
	}

	paramValue := paramValues[0]
	if paramValue == "" {
		return zero, fmt.Errorf("%s param value is empty", param)
	}

	switch any(zero).(type) {
	case string:
		result = paramValue
	case int:
		result, err = strconv.Atoi(paramValue)
	case int64:
		result, err = strconv.ParseInt(paramValue, 10, 64)
	case bool:
		result, err = strconv.ParseBool(paramValue)
	case float64:
		result, err = strconv.ParseFloat(paramValue, 64)
	default:
		err = fmt.Errorf("%s param type not supported %T", param, zero)
	}
	if err != nil {
		return zero, fmt.Errorf("%s param type conversion error: %w", param, err)
	}

	if err = validator.Validate(result.(T), validators...); err != nil {
		return zero, fmt.Errorf("%s param validation failed, err: %w", param, err)
	}
	return result.(T), nil
}

// Has reports whether the query string carries the parameter at all.
func Has[K FromConstraint](from K, param string) bool {
	switch t := any(from).(type) {
	case *http.Request:
		return t.URL.Query().Has(param)
	case *url.URL:
		return t.Query().Has(param)
	case url.Values:
		return t.Has(param)
	}
	return false
}
