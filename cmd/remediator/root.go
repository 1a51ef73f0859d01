package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/invisible-tech/autoheal-remediator/internal/rules"
	"github.com/invisible-tech/autoheal-remediator/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "remediator",
	Short: "Auto-heal remediation webhook for Kubernetes",
	Long: "remediator receives Falco and Prometheus alerts, maps them to remediation\n" +
		"actions through a rule table and applies those actions to the cluster.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

var rulesFileFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&rulesFileFlag, "rules", "", "rule file (YAML); overrides RULES_FILE")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version.String()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// loadTable returns the built-in table, or the table from path when set.
func loadTable(path string) (*rules.Table, error) {
	if path == "" {
		return rules.DefaultTable(), nil
	}
	return rules.LoadFile(path)
}
