package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/matrixstore"
)

var extractOut string

var buildExtractCmd = &cobra.Command{
	Use:   "build-extract",
	Short: "Write the parquet prescribing extract from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := extractOut
		if out == "" {
			out = cfg.SnapshotPath
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		start := time.Now()
		n, err := matrixstore.WriteExtractFrom(cmd.Context(), store, out)
		if err != nil {
			return fmt.Errorf("build extract: %w", err)
		}
		log.Info().Int("rows", n).Str("path", out).Dur("took", time.Since(start)).Msg("extract written")
		return nil
	},
}

var reportMismatches bool

var matchConcessionsCmd = &cobra.Command{
	Use:   "match-concessions",
	Short: "Match unmatched price concessions to dm+d packs",
	Long: `Sets the pack of every unmatched concession whose name identifies
exactly one VMPP. Ambiguous and unmatched concessions are listed for
manual review. With --report, matched concessions whose names disagree
with their pack are printed as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := concessions.MatchUnmatched(ctx, store)
		if err != nil {
			return err
		}
		for _, c := range res.Ambiguous {
			log.Warn().Int64("concession", c.ID).Str("drug", c.Drug).Str("pack_size", c.PackSize).Msg("ambiguous concession")
		}
		for _, c := range res.Unmatched {
			log.Warn().Int64("concession", c.ID).Str("drug", c.Drug).Str("pack_size", c.PackSize).Msg("no pack matches concession")
		}
		log.Info().
			Int("matched", res.Matched).
			Int("ambiguous", len(res.Ambiguous)).
			Int("unmatched", len(res.Unmatched)).
			Msg("concession matching finished")

		if !reportMismatches {
			return nil
		}
		mismatches, err := concessions.MismatchReport(ctx, store)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mismatches)
	},
}

func init() {
	buildExtractCmd.Flags().StringVar(&extractOut, "out", "", "Output path (defaults to SNAPSHOT_PATH)")
	matchConcessionsCmd.Flags().BoolVar(&reportMismatches, "report", false, "print concessions whose names disagree with their pack")
}
