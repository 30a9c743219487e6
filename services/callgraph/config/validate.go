// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/callgraph/services/callgraph/lsp"
)

// validate is the validator instance for configuration structs.
// Initialized in init() with custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validator for LSP symbol kind names.
	_ = validate.RegisterValidation("symbolkind", validateSymbolKind)
}

// validateSymbolKind accepts lower-case LSP symbol kind names such as
// "function" or "enum_member".
func validateSymbolKind(fl validator.FieldLevel) bool {
	_, ok := lsp.ParseSymbolKind(fl.Field().String())
	return ok
}
