package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"soraq/pricing"
)

var (
	costModel   string
	costSize    string
	costSeconds int
	pricingJSON bool
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Estimate the cost of one generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier := pricing.Tier(costModel)
		if !pricing.ValidTier(tier) {
			return fmt.Errorf("unsupported model %q", costModel)
		}
		if !pricing.ValidSize(costSize) {
			return fmt.Errorf("unsupported size %q", costSize)
		}
		if !pricing.ValidDuration(costSeconds) {
			return fmt.Errorf("unsupported duration %d (want one of %v)", costSeconds, pricing.Durations)
		}
		class := pricing.ClassForSize(costSize)
		rate, _ := pricing.Rate(tier, class)
		fmt.Printf("%s %s (%s) %ds at $%.2f/s = $%.4f\n",
			tier, costSize, class, costSeconds, rate, pricing.Cost(tier, class, costSeconds))
		return nil
	},
}

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Print the per-second price list",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines := pricing.Display()
		if pricingJSON {
			b, _ := json.MarshalIndent(lines, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, l := range lines {
			fmt.Printf("%-12s %-6s $%.2f/s\n", l.Tier, l.Class, l.PerSecond)
		}
		return nil
	},
}

func init() {
	costCmd.Flags().StringVarP(&costModel, "model", "m", string(pricing.TierSora2), "model tier (sora-2|sora-2-pro)")
	costCmd.Flags().StringVarP(&costSize, "size", "s", "1280x720", "output size WIDTHxHEIGHT")
	costCmd.Flags().IntVarP(&costSeconds, "seconds", "d", 4, "clip length in seconds")
	pricingCmd.Flags().BoolVar(&pricingJSON, "json", false, "JSON output")
	rootCmd.AddCommand(costCmd, pricingCmd)
}
