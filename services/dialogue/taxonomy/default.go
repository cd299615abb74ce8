// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taxonomy

import (
	_ "embed"
)

// DefaultIntents holds the raw bytes of default_intents.yaml: a French and
// English customer-support catalog used when no taxonomy file is configured.
//
//go:embed default_intents.yaml
var DefaultIntents []byte

// LoadDefault parses the embedded catalog.
func LoadDefault(defaultLanguage string) (*Taxonomy, error) {
	return Parse(DefaultIntents, defaultLanguage)
}

// MustLoadDefault is LoadDefault for init-time use. It panics if the embedded
// catalog is invalid, which is a build defect.
func MustLoadDefault(defaultLanguage string) *Taxonomy {
	tax, err := LoadDefault(defaultLanguage)
	if err != nil {
		panic(err)
	}
	return tax
}
