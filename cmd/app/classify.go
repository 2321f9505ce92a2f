package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/internal/services/bias"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
)

var classifyInput string

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a factor vote set offline",
	Long: `Reads {"timeframe":"daily","votes":[{"factor_id":"x","vote":1}],"disabled":["y"]}
from --input (or stdin) and prints the aggregation result using the configured
thresholds. Without a readable config file the product defaults apply.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		agg := bias.NewAggregator(bias.DefaultThresholds())
		if cfg, err := config.Load(configPath); err == nil {
			agg = bias.NewAggregator(bias.ThresholdsFromConfig(cfg))
		}

		in := cmd.InOrStdin()
		if classifyInput != "" && classifyInput != "-" {
			f, err := os.Open(classifyInput)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return classify(in, cmd.OutOrStdout(), agg)
	},
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyInput, "input", "i", "-", "vote set JSON file, - for stdin")
}

type classifyRequest struct {
	Timeframe string              `json:"timeframe"`
	Votes     []models.FactorVote `json:"votes"`
	Disabled  []string            `json:"disabled"`
}

type classifyResponse struct {
	Timeframe models.Timeframe `json:"timeframe"`
	models.ClassifyResult
}

func classify(r io.Reader, w io.Writer, agg *bias.Aggregator) error {
	var req classifyRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode vote set: %w", err)
	}
	tf, ok := models.ParseTimeframe(req.Timeframe)
	if !ok {
		return fmt.Errorf("unknown timeframe %q", req.Timeframe)
	}
	mask := bias.EnabledMask{}
	for _, id := range req.Disabled {
		mask[id] = false
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(classifyResponse{Timeframe: tf, ClassifyResult: agg.Classify(tf, req.Votes, mask)})
}
