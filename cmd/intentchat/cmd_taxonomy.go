// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/spf13/cobra"
)

func runTaxonomyValidate(cmd *cobra.Command, args []string) error {
	return validateTaxonomy(cmd.OutOrStdout(), args[0], cfg.Dialogue.DefaultLanguage)
}

// validateTaxonomy loads path and prints a per-language summary.
func validateTaxonomy(out io.Writer, path, defaultLanguage string) error {
	tax, err := taxonomy.LoadFile(path, defaultLanguage)
	if err != nil {
		return err
	}
	if err := tax.Validate(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: OK\n", path)
	fmt.Fprintf(out, "  intents:   %d\n", len(tax.Intents))
	fmt.Fprintf(out, "  patterns:  %d\n", tax.PatternCount())
	for _, lang := range tax.Languages() {
		var patterns, responses int
		for _, in := range tax.Intents {
			patterns += len(in.Patterns[lang])
			responses += len(in.Responses[lang])
		}
		fmt.Fprintf(out, "  %-10s %d patterns, %d responses\n", lang+":", patterns, responses)
	}
	return nil
}
