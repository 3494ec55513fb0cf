// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import "errors"

// ErrDeferredReset ends a resident session when the exit reset fires
var ErrDeferredReset = errors.New("deferred reset")
