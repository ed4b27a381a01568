// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "errors"

// Sentinel errors for gateway operations.
var (
	// ErrPayloadTooLarge is returned when an artifact exceeds the configured
	// maximum size. Surfaced verbatim to the lifecycle controller.
	ErrPayloadTooLarge = errors.New("artifact exceeds maximum allowed size")

	// ErrNotFound is returned when a path does not exist or is not a
	// regular file.
	ErrNotFound = errors.New("artifact not found")

	// ErrPathOutsideRoot is returned when a path would resolve outside the
	// gateway's root directory. The root is a hard boundary; paths are
	// pre-validated upstream, so hitting this indicates a caller bug.
	ErrPathOutsideRoot = errors.New("path escapes storage root")
)
