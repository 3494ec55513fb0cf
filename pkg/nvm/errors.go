// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nvm

import "errors"

var (
	// ErrProtected is returned when a write targets a page at or above the
	// protection boundary. Nothing is written.
	ErrProtected = errors.New("page is inside the protected loader section")

	// ErrInvalidGeometry is returned for a Geometry the driver cannot use
	ErrInvalidGeometry = errors.New("invalid memory geometry")

	// ErrSnapshot is returned when a snapshot does not match the part
	ErrSnapshot = errors.New("snapshot does not match part geometry")
)
