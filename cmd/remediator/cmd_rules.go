package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/invisible-tech/autoheal-remediator/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and print the effective rule table",
	Long: `Loads the built-in rules, merged with --rules / RULES_FILE when given, and
prints the effective table as a rule file. A non-zero exit means the file
failed validation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := rulesFileFlag
		if path == "" {
			path = serveConfig().RulesFile
		}
		table, err := loadTable(path)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rules.File{Replace: true, Rules: table.Rules()})
	},
}
