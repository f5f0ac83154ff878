package billing

import "errors"

var (
	// ErrInvalidPeriod is returned when a period end does not follow its start.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrMissingFeeConfig is returned when a property has no usable fee configuration.
	ErrMissingFeeConfig = errors.New("billing: missing fee configuration")
	// ErrUnknownMode is returned for an unrecognized calculation mode.
	ErrUnknownMode = errors.New("billing: unknown calculation mode")
)
