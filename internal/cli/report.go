package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"immotech/server/internal/analytics"
	"immotech/server/internal/models"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print market and activity reports",
	}
	cmd.AddCommand(newMarketReportCmd(), newActivityReportCmd())
	return cmd
}

func newMarketReportCmd() *cobra.Command {
	var (
		filter models.MarketFilter
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "market",
		Short: "Market report for a city, property type or offer type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := analytics.NewAggregator(rt.store, rt.logger).GenerateMarketReport(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printMarketReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.City, "city", "", "city (substring, case-insensitive)")
	cmd.Flags().StringVar(&filter.PropertyType, "type", "", "property type")
	cmd.Flags().StringVar(&filter.TransactionType, "transaction-type", "", "sale or rental")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

func newActivityReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activity <user-id>",
		Short: "Activity report of one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := analytics.NewActivityReporter(rt.store, rt.logger).GetUserActivityReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func printMarketReport(w io.Writer, r *models.MarketReport) {
	scope := r.City
	if scope == "" {
		scope = "all cities"
	}
	fmt.Fprintf(w, "Market report: %s\n", scope)
	fmt.Fprintf(w, "  Properties:       %d (%d available)\n", r.TotalProperties, r.AvailableProperties)
	fmt.Fprintf(w, "  Average price:    %.2f\n", r.AveragePrice)
	fmt.Fprintf(w, "  Price per m²:     %.2f\n", r.PricePerSqm)
	fmt.Fprintf(w, "  Days on market:   %.1f\n", r.AverageTimeOnMarket)
	fmt.Fprintf(w, "  Negotiation rate: %.1f%%\n", r.NegotiationRate)

	fmt.Fprintln(w, "  Surfaces:")
	for _, b := range r.SurfaceDistribution {
		fmt.Fprintf(w, "    %-8s %d\n", b.Label, b.Count)
	}
	if len(r.PriceTrend) > 0 {
		fmt.Fprintln(w, "  Monthly prices:")
		for _, p := range r.PriceTrend {
			fmt.Fprintf(w, "    %-8s %.2f (%d)\n", p.Period, p.AveragePrice, p.Count)
		}
	}
}
