// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package avr109

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the loader did not answer in time
	ErrTimeout = errors.New("timed out waiting for loader")
	// ErrNotAuthorized indicates a write or erase refused because the
	// selected device type does not match the loader's
	ErrNotAuthorized = errors.New("device type not selected")
	// ErrUnsupported indicates the loader answered '?' to a command
	ErrUnsupported = errors.New("command not supported by loader")
)

// ResponseError reports an unexpected response byte
type ResponseError struct {
	Command byte
	Got     byte
	Want    byte
}

// Error implements error
func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: got 0x%02X, want 0x%02X", FormatCommand(e.Command), e.Got, e.Want)
}

// Unwrap maps the protocol's error replies to sentinel errors
func (e *ResponseError) Unwrap() error {
	switch e.Got {
	case RespUnauthorized:
		return ErrNotAuthorized
	case RespUnknown:
		return ErrUnsupported
	default:
		return nil
	}
}
