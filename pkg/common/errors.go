//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// toolgate packages.
//
// # Error Handling
//
// The [PolicyError] type carries a stable reason code next to a human-readable
// message so that decision points can map failures to transport status codes
// without string matching.
package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ReasonCode classifies a [PolicyError].
type ReasonCode string

// Reason codes surfaced by the engine and its decision points.
const (
	// InvalidRequest means the request could not be decoded into a types.Request.
	InvalidRequest ReasonCode = "INVALID_REQUEST"
	// ConfigError means a PolicyConfig failed validation.
	ConfigError ReasonCode = "CONFIG_ERROR"
	// EvaluationError means a module could not be evaluated.
	EvaluationError ReasonCode = "EVALUATION_ERROR"
	// CacheError means the decision cache store failed.
	CacheError ReasonCode = "CACHE_ERROR"
)

// PolicyError represents a failure with a machine-readable classification.
type PolicyError struct {
	// ReasonCode is the machine-readable classification.
	ReasonCode ReasonCode `json:"reason_code"`
	// Reason is a human-readable description of the error.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s(code-%s)", e.Reason, e.ReasonCode)
}

// NewError creates a new [PolicyError] with the specified reason code and message.
func NewError(code ReasonCode, msg string) *PolicyError {
	return &PolicyError{ReasonCode: code, Reason: msg}
}

// Errorf creates a new [PolicyError] with a formatted message.
func Errorf(code ReasonCode, format string, args ...interface{}) *PolicyError {
	return &PolicyError{ReasonCode: code, Reason: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err, or anything it wraps, is a PolicyError with the given code.
func HasCode(err error, code ReasonCode) bool {
	var perr *PolicyError
	if errors.As(err, &perr) {
		return perr.ReasonCode == code
	}
	return false
}
