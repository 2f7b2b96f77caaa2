package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
)

// Sentinel errors for common object store failures. Use errors.Is to check.
var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("object store: object not found")

	// ErrBucketNotFound indicates the configured bucket does not exist.
	ErrBucketNotFound = errors.New("object store: bucket not found")

	// ErrAccessDenied indicates the credentials cannot perform the operation.
	ErrAccessDenied = errors.New("object store: access denied")

	// ErrNotArchived indicates a restore was requested for an object that is
	// not in an archive storage class.
	ErrNotArchived = errors.New("object store: object is not archived")

	// ErrRestoreInProgress indicates a restore request for an object that the
	// store is already restoring.
	ErrRestoreInProgress = errors.New("object store: restore already in progress")
)

// Error wraps an object store failure with the operation and location that
// produced it, so a log line can say what was being done to which object.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Bucket != "" && e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("s3.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opErr(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// Transient error codes: the request may succeed if simply tried again.
var transientCodes = map[string]bool{
	"RequestTimeout":          true,
	"RequestTimeoutException": true,
	"SlowDown":                true,
	"Throttling":              true,
	"ThrottlingException":     true,
	"TooManyRequests":         true,
	"InternalError":           true,
	"ServiceUnavailable":      true,
	"BadDigest":               true,
}

// Permanent error codes: retrying cannot help, the job must fail with the
// store's message intact.
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"QuotaExceeded":         true,
	"EntityTooLarge":        true,
	"InvalidObjectState":    true,
	"ExpiredToken":          true,
	"TokenRefreshRequired":  true,
	"InvalidStorageClass":   true,
	"MethodNotAllowed":      true,
	"NoSuchUpload":          true,
	"InvalidPart":           true,
	"InvalidPartOrder":      true,
}

// Transient reports whether err looks like a condition worth retrying:
// timeouts, throttling, transport hiccups and 5xx-class store errors.
// Anything classified permanent is never transient, and unknown errors
// default to transient so a flaky network does not permanently fail jobs.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNoCredentials) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if transientCodes[code] {
			return true
		}
		if permanentCodes[code] {
			return false
		}
		// Server faults without a recognized code are worth retrying.
		return apiErr.ErrorFault() != smithy.FaultClient
	}

	return true
}

// Permanent reports whether err is a hard failure that retrying cannot fix.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrBucketNotFound) ||
		errors.Is(err, ErrNoCredentials) {
		return true
	}
	return !Transient(err) && !errors.Is(err, context.Canceled)
}

// translate maps well-known API error codes onto the package sentinels so
// callers can use errors.Is instead of matching code strings.
func translate(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, apiErr.ErrorMessage())
	case "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrBucketNotFound, apiErr.ErrorMessage())
	case "AccessDenied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorMessage())
	case "InvalidObjectState":
		return fmt.Errorf("%w: %s", ErrNotArchived, apiErr.ErrorMessage())
	case "RestoreAlreadyInProgress":
		return ErrRestoreInProgress
	}
	return err
}
