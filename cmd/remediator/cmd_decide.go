package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/invisible-tech/autoheal-remediator/internal/rules"
	"github.com/invisible-tech/autoheal-remediator/internal/server"
	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

var decideSource string

var decideCmd = &cobra.Command{
	Use:   "decide [payload.json]",
	Short: "Show the action an alert payload would trigger",
	Long: `Reads a Falco or Prometheus alert payload (from a file or stdin) and prints
the remediation action the rule table selects for it. Nothing is applied to
the cluster.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		table, err := loadTable(rulesFileFlag)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		log := newLogger("warning")
		log.SetOutput(cmd.ErrOrStderr())
		out, err := decide(in, types.Source(decideSource), rules.NewDecider(rules.NewStore(table), log))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideSource, "source", string(types.SourceFalco), "payload source: falco or prometheus")
}

type decision struct {
	Status string            `json:"status"`
	Event  types.AlertEvent  `json:"event"`
	Action *types.ActionSpec `json:"action,omitempty"`
}

func decide(r io.Reader, source types.Source, d *rules.Decider) (decision, error) {
	var event types.AlertEvent
	switch source {
	case types.SourceFalco:
		var alert types.FalcoEvent
		if err := json.NewDecoder(r).Decode(&alert); err != nil {
			return decision{}, fmt.Errorf("decode falco payload: %w", err)
		}
		event = server.FalcoToEvent(alert)
	case types.SourcePrometheus:
		var alert types.PrometheusAlert
		if err := json.NewDecoder(r).Decode(&alert); err != nil {
			return decision{}, fmt.Errorf("decode prometheus payload: %w", err)
		}
		event = server.PrometheusToEvent(alert)
	default:
		return decision{}, fmt.Errorf("unknown source %q", source)
	}

	spec, ok := d.Decide(event)
	if !ok {
		return decision{Status: string(types.StatusNoAction), Event: event}, nil
	}
	return decision{Status: "action", Event: event, Action: &spec}, nil
}
