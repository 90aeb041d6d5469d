// Command ledgeraudit replays traceability ledgers and reports integrity
// anomalies.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"p9e.in/takweed/config"
	"p9e.in/takweed/pkg/ledger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configPath    string
	asJSON        bool
	onlyAnomalies bool
)

// newLedger loads the config and opens the ledger over Postgres.
func newLedger() (*ledger.Ledger, error) {
	cfg, errs := config.Load(configPath)
	if cfg == nil || cfg.DBDSN == "" {
		if len(errs) > 0 {
			return nil, fmt.Errorf("reading config: %w", errs[0])
		}
		return nil, fmt.Errorf("reading config: %w", config.ErrMissingDBDSN)
	}
	logger := config.NewLogger(cfg, os.Stderr)
	db, err := config.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return ledger.New(ledger.NewGormStore(db), ledger.Options{Logger: logger}), nil
}

var rootCmd = &cobra.Command{
	Use:          "ledgeraudit",
	Short:        "Replay traceability ledgers and report anomalies",
	SilenceUsage: true,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay every ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLedger()
		if err != nil {
			return err
		}
		audits, err := l.Audit(cmd.Context())
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		if err := printAudit(cmd.OutOrStdout(), audits, onlyAnomalies, asJSON); err != nil {
			return err
		}
		if n := countAnomalies(audits); n > 0 {
			return fmt.Errorf("%d anomalies found", n)
		}
		return nil
	},
}

var holdingsCmd = &cobra.Command{
	Use:   "holdings <code>",
	Short: "Show the replayed hub holdings of one request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLedger()
		if err != nil {
			return err
		}
		holdings, anomalies, err := l.CurrentHoldings(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		remaining, charged, err := l.RemainingCharge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printHoldings(cmd.OutOrStdout(), holdings, remaining, append(anomalies, charged...), asJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON")
	auditCmd.Flags().BoolVar(&onlyAnomalies, "only-anomalies", false, "Skip ledgers without anomalies")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(holdingsCmd)
}

func countAnomalies(audits []ledger.Audit) int {
	n := 0
	for _, a := range audits {
		n += len(a.Anomalies)
	}
	return n
}

func printAudit(w io.Writer, audits []ledger.Audit, onlyAnomalies, asJSON bool) error {
	if onlyAnomalies {
		kept := audits[:0:0]
		for _, a := range audits {
			if len(a.Anomalies) > 0 {
				kept = append(kept, a)
			}
		}
		audits = kept
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(audits)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tENTRIES\tKIND\tSEQ\tDETAIL")
	for _, a := range audits {
		if len(a.Anomalies) == 0 {
			fmt.Fprintf(tw, "%s\t%d\tok\t\t\n", a.Code, a.Entries)
			continue
		}
		for _, an := range a.Anomalies {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", a.Code, a.Entries, an.Kind, an.Seq, an.Message)
		}
	}
	fmt.Fprintf(tw, "\n%d ledgers, %d anomalies\n", len(audits), countAnomalies(audits))
	return tw.Flush()
}

func printHoldings(w io.Writer, holdings ledger.Holdings, remaining map[string]float64, anomalies []ledger.Anomaly, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"holdings":  holdings,
			"remaining": remaining,
			"anomalies": anomalies,
		})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HUB\tVARIETY\tAMOUNT")
	for _, hub := range sortedKeys(holdings) {
		for _, variety := range sortedKeys(holdings[hub]) {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\n", hub, variety, holdings[hub][variety])
		}
	}
	for _, variety := range sortedKeys(remaining) {
		fmt.Fprintf(tw, "(charge pool)\t%s\t%.2f\n", variety, remaining[variety])
	}
	for _, an := range anomalies {
		fmt.Fprintf(tw, "! %s\t%s\t%s\n", an.Kind, an.Variety, an.Message)
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
