package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Dan9191/underwriting-service/internal/analytics"
	"github.com/Dan9191/underwriting-service/internal/integrations/camt"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/underwriting"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "uwctl",
		Short:         "Offline tools for the underwriting scorer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("policy", "p", "", "YAML policy file overriding the default policy")

	root.AddCommand(scoreCmd())
	root.AddCommand(statementCmd())
	root.AddCommand(policyCmd())
	return root
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score [file|-]",
		Short: "Score a metrics bundle JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scorer, err := loadScorer(cmd)
			if err != nil {
				return err
			}
			in, closeFn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeFn()

			bundle, err := underwriting.DecodeBundle(in)
			if err != nil {
				return err
			}
			score, err := scorer.Score(bundle)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), score)
		},
	}
}

func statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement [file|-]",
		Short: "Aggregate and score a camt.053 bank statement",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scorer, err := loadScorer(cmd)
			if err != nil {
				return err
			}
			threshold, _ := cmd.Flags().GetFloat64("low-balance")
			in, closeFn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := camt.Parse(in)
			if err != nil {
				return err
			}
			bundle, err := analytics.NewAggregator(threshold).Aggregate(report)
			if err != nil {
				return err
			}
			score, err := scorer.Score(bundle)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), models.NewAnalysis(0, report.AssetReportID, bundle, score, report.DateGenerated))
		},
	}
	cmd.Flags().Float64("low-balance", analytics.DefaultLowBalanceThreshold, "Balance under which a day counts as low")
	return cmd
}

func policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective scoring policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scorer, err := loadScorer(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(scorer.Policy())
		},
	}
}

func loadScorer(cmd *cobra.Command) (*underwriting.Scorer, error) {
	path, _ := cmd.Flags().GetString("policy")
	policy, err := underwriting.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return underwriting.NewScorer(policy)
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	return f, func() { f.Close() }, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
