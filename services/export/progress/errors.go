// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import "errors"

// errSubscribeWriteFailed is returned by Subscribe when the synthetic
// connected event cannot be written to a brand-new endpoint. The caller
// treats it like an immediate disconnect.
var errSubscribeWriteFailed = errors.New("failed to deliver connected event to new subscriber")
