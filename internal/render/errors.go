package render

import (
	"context"
	"errors"
	"strings"
)

// recoverableSignatures are error fragments that mean the page or browser
// went away under us. Such failures fall back to a static fetch.
var recoverableSignatures = []string{
	"session closed",
	"target closed",
	"connection closed",
	"use of closed network connection",
	"detached",
	"execution context was destroyed",
	"cannot find context with specified id",
	"timeout",
	"deadline exceeded",
}

// IsRecoverable reports whether err is on the allow-list of transient
// browser failures.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range recoverableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
