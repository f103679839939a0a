package model

import (
	"fmt"
	"time"
)

// ValidationError is a bad input or unknown entity. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// RateCapError reports that the adjustment frequency cap is exhausted.
type RateCapError struct {
	UnitID        string
	Used          int
	Limit         int
	NextAvailable time.Time
}

func (e *RateCapError) Error() string {
	return fmt.Sprintf("unit %s reached %d/%d adjustments in the last hour, next allowed at %s",
		e.UnitID, e.Used, e.Limit, e.NextAvailable.Format(time.RFC3339))
}

// ExternalServiceError wraps a failure of the store or the ad platform.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// DataQualityError reports an unparseable upstream payload.
type DataQualityError struct {
	Source string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality (%s): %s", e.Source, e.Reason)
}
