// Package errors provides structured error handling for ipsweep operations.
// It defines error codes, error types for the scan, job, database, discovery
// and configuration layers, and helpers for classifying wrapped errors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"
	CodeNoTargets          ErrorCode = "NO_TARGETS"

	// Job lifecycle errors.
	CodeJobFailed       ErrorCode = "JOB_FAILED"
	CodeJobTransition   ErrorCode = "JOB_TRANSITION"
	CodeManagerShutdown ErrorCode = "MANAGER_SHUTDOWN"

	// External discovery errors.
	CodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	CodeDiscoveryAuth   ErrorCode = "DISCOVERY_AUTH"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
)

// coded is implemented by every error type in this package.
type coded interface {
	error
	ErrorCode() ErrorCode
}

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *ScanError) ErrorCode() ErrorCode {
	return e.Code
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// JobError represents a failure tied to a single scan job.
type JobError struct {
	Code    ErrorCode
	Message string
	JobID   string
	State   string
	Cause   error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("[%s] %s (job: %s)", e.Code, e.Message, e.JobID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *JobError) ErrorCode() ErrorCode {
	return e.Code
}

// NewJobError creates a job error for the given job.
func NewJobError(code ErrorCode, message, jobID string) *JobError {
	return &JobError{
		Code:    code,
		Message: message,
		JobID:   jobID,
	}
}

// WrapJobError wraps an existing error as a job error.
func WrapJobError(code ErrorCode, message, jobID string, err error) *JobError {
	return &JobError{
		Code:    code,
		Message: message,
		JobID:   jobID,
		Cause:   err,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *DatabaseError) ErrorCode() ErrorCode {
	return e.Code
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// DiscoveryError represents failures talking to an external discovery source.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Source  string
	RuleID  string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("[%s] %s (source: %s, rule: %s)", e.Code, e.Message, e.Source, e.RuleID)
	}
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s (source: %s)", e.Code, e.Message, e.Source)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *DiscoveryError) ErrorCode() ErrorCode {
	return e.Code
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message, source string, err error) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Source:  source,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *ConfigError) ErrorCode() ErrorCode {
	return e.Code
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var c coded
	if stderrors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool {
	return IsCode(err, CodeConflict)
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeNetworkUnreachable, CodeServiceTimeout,
		CodeDatabaseTimeout, CodeDatabaseConnection:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrNoTargets creates the error reported when range resolution yields nothing to scan.
func ErrNoTargets(descriptors int) *ScanError {
	return NewScanError(CodeNoTargets, "No scannable addresses in the requested ranges").
		WithContext("descriptors", descriptors)
}

// ErrJobNotFound creates an error for an unknown job id.
func ErrJobNotFound(jobID string) *JobError {
	return NewJobError(CodeNotFound, "Job not found", jobID)
}

// ErrJobActive creates an error for a submission whose id is already running.
func ErrJobActive(jobID string) *JobError {
	return NewJobError(CodeConflict, "Job is already active", jobID)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
