/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import "errors"

var (
	ErrNotFound = errors.New("item not found")

	// node attempt failures; see model.Classify
	ErrTransport          = errors.New("transport failure")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrRejected           = errors.New("definite rejection")
	ErrEncoding           = errors.New("parameter cannot be encoded")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)
