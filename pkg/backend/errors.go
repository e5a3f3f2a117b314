// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/aws/smithy-go"
)

// Error is a classified backend failure. Retryable errors are transport
// conditions worth repeating with backoff; everything else fails fast.
type Error struct {
	Op        string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %s: %s: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Codes treated as transient by S3-compatible services.
var retryableCodes = map[string]bool{
	"RequestTimeout":          true,
	"RequestTimeoutException": true,
	"Throttling":              true,
	"ThrottlingException":     true,
	"TooManyRequests":         true,
	"SlowDown":                true,
	"ServiceUnavailable":      true,
	"InternalError":           true,
	"BadDigest":               true, // payload corrupted in transit, a resend can succeed
}

// Codes that will never succeed on retry.
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchUpload":          true,
	"NoSuchBucket":          true,
	"NoSuchKey":             true,
	"InvalidPart":           true,
	"InvalidPartOrder":      true,
	"ExpiredToken":          true,
	"EntityTooSmall":        true,
	"EntityTooLarge":        true,
}

// classify wraps err as an *Error for op with retryability decided from the
// service code when present, transport heuristics otherwise.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		retryable := retryableCodes[code]
		if !retryable && !permanentCodes[code] {
			// Unknown service codes default to fault-level retryability.
			retryable = apiErr.ErrorFault() == smithy.FaultServer
		}
		return &Error{
			Op:        op,
			Code:      code,
			Message:   apiErr.ErrorMessage(),
			Retryable: retryable,
			Err:       err,
		}
	}

	return &Error{
		Op:        op,
		Message:   err.Error(),
		Retryable: transientTransport(err),
		Err:       err,
	}
}

func transientTransport(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsRetryable reports whether err is worth repeating with backoff.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	return transientTransport(err)
}

// IsNoSuchUpload reports whether err means the multipart session no longer
// exists at the backend (aborted, completed, or expired).
func IsNoSuchUpload(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == "NoSuchUpload"
	}
	return false
}
