package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/egglogu/billing/pkg/subscription"
)

var pricedPhases = []subscription.Phase{
	subscription.PhaseQ1,
	subscription.PhaseQ2,
	subscription.PhaseQ3,
	subscription.PhaseFull,
}

type catalogTier struct {
	Tier         string             `json:"tier"`
	Name         string             `json:"name"`
	PriceMonthly float64            `json:"price_monthly"`
	PriceAnnual  float64            `json:"price_annual"`
	PhasePrices  map[string]float64 `json:"phase_prices"`
}

func newCatalogCommand() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate the plan catalog and print monthly prices per discount phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			if asJSON {
				return writeCatalogJSON(cmd.OutOrStdout(), catalog)
			}
			return writeCatalogTable(cmd.OutOrStdout(), catalog)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file (defaults to the built-in catalog)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func writeCatalogJSON(w io.Writer, c *subscription.Catalog) error {
	plans := c.Plans()
	tiers := make([]catalogTier, 0, len(plans))
	for _, p := range plans {
		t := catalogTier{
			Tier:         p.Tier,
			Name:         p.Name,
			PriceMonthly: subscription.Dollars(p.PriceMonthly),
			PriceAnnual:  subscription.Dollars(p.PriceAnnual),
			PhasePrices:  make(map[string]float64, len(pricedPhases)),
		}
		for _, ph := range pricedPhases {
			price := subscription.EffectivePrice(p, ph, subscription.IntervalMonth)
			t.PhasePrices[strconv.Itoa(int(ph))] = subscription.Dollars(price)
		}
		tiers = append(tiers, t)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tiers)
}

func writeCatalogTable(w io.Writer, c *subscription.Catalog) error {
	fmt.Fprintf(w, "catalog %s, %s, %d day trial on %s\n\n", c.Version, c.Currency, c.TrialDays, c.TrialPlan().Tier)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "TIER\tNAME\tANNUAL")
	for _, ph := range pricedPhases {
		fmt.Fprintf(tw, "\t%s", ph.Label())
	}
	fmt.Fprintln(tw)

	for _, p := range c.Plans() {
		fmt.Fprintf(tw, "%s\t%s\t%s", p.Tier, p.Name, subscription.FormatMoney(p.PriceAnnual, c.Currency))
		for _, ph := range pricedPhases {
			price := subscription.EffectivePrice(p, ph, subscription.IntervalMonth)
			fmt.Fprintf(tw, "\t%s", subscription.FormatMoney(price, c.Currency))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
