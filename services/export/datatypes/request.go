// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxContentBytes bounds the structured input accepted by Submit.
// Byte length (not rune count) is checked to keep memory use predictable
// regardless of encoding.
const MaxContentBytes = 1 << 20 // 1 MiB

// MaxOptionEntries bounds the opaque options map.
const MaxOptionEntries = 32

// =============================================================================
// Shared Validator Instance
// =============================================================================

// exportValidate is the validator instance for export datatypes.
// Initialized in init() with custom validators.
var exportValidate *validator.Validate

func init() {
	exportValidate = validator.New()

	_ = exportValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = exportValidate.RegisterValidation("exportformat", validateFormat)
}

// validateMaxBytes validates that a string field does not exceed MaxContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxContentBytes
}

// validateFormat validates that a field holds one of the supported formats.
func validateFormat(fl validator.FieldLevel) bool {
	_, err := ParseFormat(fl.Field().String())
	return err == nil
}

// =============================================================================
// Export Request
// =============================================================================

// ExportRequest is the client-supplied specification for a new export task.
//
// # Fields
//
//   - Format: Required. One of "word", "pdf", "pptx", "markdown".
//   - Title: Required. Document title, 1-256 characters.
//   - Content: Required. Structured input the renderer works from. Limited
//     to MaxContentBytes.
//   - Options: Optional opaque key/value configuration passed through to the
//     renderer. At most MaxOptionEntries entries.
//   - ClientID: Optional caller identity used for rate limiting. Defaults to
//     the remote address when empty.
//
// # Validation
//
// Uses go-playground/validator:
//   - Format: required, custom "exportformat" rule
//   - Title: required, 1-256 characters
//   - Content: required, custom "maxbytes" rule
//   - Options: at most MaxOptionEntries entries
type ExportRequest struct {
	Format   string            `json:"format" validate:"required,exportformat"`
	Title    string            `json:"title" validate:"required,min=1,max=256"`
	Content  string            `json:"content" validate:"required,maxbytes"`
	Options  map[string]string `json:"options,omitempty" validate:"omitempty,max=32"`
	ClientID string            `json:"client_id,omitempty" validate:"omitempty,max=128"`
}

// Validate validates the ExportRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *ExportRequest) Validate() error {
	return exportValidate.Struct(r)
}
