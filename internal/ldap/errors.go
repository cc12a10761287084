package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel kinds every error surfaced by a Connection matches with errors.Is.
var (
	// ErrUnavailable means no server could serve the call. Callers may retry later.
	ErrUnavailable = errors.New("ldap: server unavailable")
	// ErrOperationFailed means the call itself failed and retrying it will not help.
	ErrOperationFailed = errors.New("ldap: operation failed")
	// ErrIllegalState means the handle was used outside its lifecycle.
	ErrIllegalState = errors.New("ldap: illegal state")
	// ErrReadOnly is returned for write operations on a read-only connection.
	ErrReadOnly = fmt.Errorf("%w: connection is read-only", ErrOperationFailed)
)

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents failures of the connection layer itself, as
// opposed to results returned by the server.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
	kind      error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// Is matches the error's kind sentinel.
func (e *ConnectionError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

// NewConnectionError creates a new connection error. Retryable errors are
// ErrUnavailable, the rest ErrOperationFailed.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	kind := ErrOperationFailed
	if retryable {
		kind = ErrUnavailable
	}
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
		kind:      kind,
	}
}

// NewUnavailableError reports that no server could be reached; the message of
// cause is carried along.
func NewUnavailableError(message string, cause error) *ConnectionError {
	return NewConnectionError(message, true, cause)
}

// NewIllegalStateError reports misuse of a connection's lifecycle.
func NewIllegalStateError(message string) *ConnectionError {
	return &ConnectionError{message: message, kind: ErrIllegalState}
}

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Is maps the retryable classification onto the sentinel kinds.
func (e *LDAPError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Retryable
	case ErrOperationFailed:
		return !e.Retryable
	default:
		return false
	}
}

// NewLDAPError classifies err once, at the transport boundary.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	var existing *LDAPError
	if errors.As(err, &existing) {
		return existing
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = getLDAPCodeMessage(resultErr.ResultCode)
	} else {
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = isGenericErrorRetryable(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// resultClass is what a result code says about the failed call.
type resultClass struct {
	category  ErrorCategory
	retryable bool
}

var resultClasses = map[uint16]resultClass{
	ldap.LDAPResultInvalidCredentials:          {ErrorCategoryAuthentication, false},
	ldap.LDAPResultInappropriateAuthentication: {ErrorCategoryAuthentication, false},
	ldap.LDAPResultStrongAuthRequired:          {ErrorCategoryAuthentication, false},

	ldap.LDAPResultInsufficientAccessRights: {ErrorCategoryPermission, false},
	ldap.LDAPResultUnwillingToPerform:       {ErrorCategoryPermission, false},

	ldap.LDAPResultNoSuchObject:           {ErrorCategoryNotFound, false},
	ldap.LDAPResultNoSuchAttribute:        {ErrorCategoryNotFound, false},
	ldap.LDAPResultUndefinedAttributeType: {ErrorCategoryNotFound, false},

	ldap.LDAPResultEntryAlreadyExists:     {ErrorCategoryConflict, false},
	ldap.LDAPResultAttributeOrValueExists: {ErrorCategoryConflict, false},
	ldap.LDAPResultObjectClassViolation:   {ErrorCategoryConflict, false},
	ldap.LDAPResultNotAllowedOnNonLeaf:    {ErrorCategoryConflict, false},

	ldap.LDAPResultInvalidAttributeSyntax: {ErrorCategoryValidation, false},
	ldap.LDAPResultConstraintViolation:    {ErrorCategoryValidation, false},
	ldap.LDAPResultInvalidDNSyntax:        {ErrorCategoryValidation, false},
	ldap.LDAPResultNamingViolation:        {ErrorCategoryValidation, false},
	ldap.LDAPResultFilterError:            {ErrorCategoryValidation, false},

	ldap.LDAPResultServerDown:         {ErrorCategoryServer, true},
	ldap.LDAPResultUnavailable:        {ErrorCategoryServer, true},
	ldap.LDAPResultBusy:               {ErrorCategoryServer, true},
	ldap.LDAPResultTimeLimitExceeded:  {ErrorCategoryServer, true},
	ldap.LDAPResultAdminLimitExceeded: {ErrorCategoryServer, false},

	ldap.LDAPResultConnectError:  {ErrorCategoryConnection, true},
	ldap.LDAPResultProtocolError: {ErrorCategoryConnection, false},
	ldap.LDAPResultTimeout:       {ErrorCategoryConnection, true},
	ldap.ErrorNetwork:            {ErrorCategoryConnection, true},
}

func categorizeError(code uint16) ErrorCategory {
	if class, ok := resultClasses[code]; ok {
		return class.category
	}
	return ErrorCategoryUnknown
}

// isLDAPCodeRetryable reports whether another attempt, possibly on another
// server, could get past code.
func isLDAPCodeRetryable(code uint16) bool {
	return resultClasses[code].retryable
}

// messagePatterns classify errors that carry no result code by their text.
// The first matching pattern decides the category; any retryable match makes
// the error retryable.
var messagePatterns = []struct {
	pattern   string
	category  ErrorCategory
	retryable bool
}{
	{"connection", ErrorCategoryConnection, true},
	{"network", ErrorCategoryConnection, true},
	{"timeout", ErrorCategoryConnection, true},
	{"broken pipe", ErrorCategoryConnection, true},
	{"authentication", ErrorCategoryAuthentication, false},
	{"credentials", ErrorCategoryAuthentication, false},
	{"password", ErrorCategoryAuthentication, false},
	{"permission", ErrorCategoryPermission, false},
	{"access", ErrorCategoryPermission, false},
	{"denied", ErrorCategoryPermission, false},
	{"temporary failure", ErrorCategoryUnknown, true},
	{"server temporarily unavailable", ErrorCategoryUnknown, true},
}

func categorizeGenericError(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if p.category != ErrorCategoryUnknown && strings.Contains(msg, p.pattern) {
			return p.category
		}
	}
	return ErrorCategoryUnknown
}

func isGenericErrorRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if p.retryable && strings.Contains(msg, p.pattern) {
			return true
		}
	}
	return false
}

// getLDAPCodeMessage returns the standard name of code.
func getLDAPCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, ErrOperationFailed), errors.Is(err, ErrIllegalState):
		return false
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return isLDAPCodeRetryable(resultErr.ResultCode)
	}

	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates a permission problem.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}
