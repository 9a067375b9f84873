// errors.go: Error codes for charybdis operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

// Error codes for charybdis operations
const (
	ErrCodeSignatureParse     = "CHARYBDIS_SIGNATURE_PARSE"
	ErrCodeGeneration         = "CHARYBDIS_GENERATION"
	ErrCodeSuppression        = "CHARYBDIS_SUPPRESSION"
	ErrCodeMonitor            = "CHARYBDIS_MONITOR"
	ErrCodeTargetDisconnected = "CHARYBDIS_TARGET_DISCONNECTED"
	ErrCodeCallFailed         = "CHARYBDIS_CALL_FAILED"
	ErrCodeBus                = "CHARYBDIS_BUS"
	ErrCodeInvalidConfig      = "CHARYBDIS_INVALID_CONFIG"
	ErrCodeInvalidAuditConfig = "CHARYBDIS_INVALID_AUDIT_CONFIG"
)

// ErrorCode extracts the charybdis error code from an error produced by this
// package. Errors created with go-errors render as "[CODE]: message"; the
// code is recovered from that prefix. Returns "" for nil or foreign errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	if len(errStr) > 3 && errStr[0] == '[' {
		for idx := 1; idx < len(errStr); idx++ {
			if errStr[idx] == ']' {
				return errStr[1:idx]
			}
		}
	}

	return ""
}

// IsDisconnected reports whether err classifies the fuzz target as no longer
// reachable on the bus - the primary finding of a fuzz run.
func IsDisconnected(err error) bool {
	return ErrorCode(err) == ErrCodeTargetDisconnected
}
