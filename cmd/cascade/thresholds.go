package cascade

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kamilpajak/cascade/pkg/models"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	serverToken string
	thJSON      bool
	setPrimary  float64
	setSecond   float64
	setThird    float64
	setBy       string
	historySize int
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Inspect or change a running server's thresholds",
}

var thresholdsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current thresholds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := newServerClient(serverURL, serverToken).getThresholds(cmd.Context())
		if err != nil {
			return err
		}
		return printThresholds(cmd.OutOrStdout(), []models.ThresholdConfig{*cfg})
	},
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more thresholds",
	Long: `Change thresholds on a running server. Omitted levels keep their value.
The update is rejected as a whole if any value lies outside [0, 1].

Example:
  cascade thresholds set --secondary 0.8 --tertiary 0.75`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var u models.ThresholdUpdate
		flags := cmd.Flags()
		if flags.Changed("primary") {
			u.Primary = &setPrimary
		}
		if flags.Changed("secondary") {
			u.Secondary = &setSecond
		}
		if flags.Changed("tertiary") {
			u.Tertiary = &setThird
		}
		if u.Empty() {
			return fmt.Errorf("set at least one of --primary, --secondary, --tertiary")
		}
		if err := u.Validate(""); err != nil {
			return err
		}

		cfg, err := newServerClient(serverURL, serverToken).updateThresholds(cmd.Context(), u, setBy)
		if err != nil {
			return err
		}
		return printThresholds(cmd.OutOrStdout(), []models.ThresholdConfig{*cfg})
	},
}

var thresholdsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past threshold updates, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := newServerClient(serverURL, serverToken).thresholdHistory(cmd.Context(), historySize)
		if err != nil {
			return err
		}
		return printThresholds(cmd.OutOrStdout(), history)
	},
}

func init() {
	defaultServer := os.Getenv("CASCADE_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	pf := thresholdsCmd.PersistentFlags()
	pf.StringVarP(&serverURL, "server", "s", defaultServer, "cascade API server URL")
	pf.StringVar(&serverToken, "token", os.Getenv("CASCADE_TOKEN"), "Bearer token for authenticated servers")
	pf.BoolVar(&thJSON, "json", false, "Output as JSON")

	sf := thresholdsSetCmd.Flags()
	sf.Float64Var(&setPrimary, "primary", 0, "Primary threshold")
	sf.Float64Var(&setSecond, "secondary", 0, "Secondary threshold")
	sf.Float64Var(&setThird, "tertiary", 0, "Tertiary threshold")
	sf.StringVar(&setBy, "by", os.Getenv("USER"), "Name recorded as updated_by (ignored by authenticated servers)")

	thresholdsHistoryCmd.Flags().IntVarP(&historySize, "limit", "n", 20, "Number of entries")

	thresholdsCmd.AddCommand(thresholdsGetCmd, thresholdsSetCmd, thresholdsHistoryCmd)
}

func printThresholds(w io.Writer, cfgs []models.ThresholdConfig) error {
	if thJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(cfgs) == 1 {
			return enc.Encode(cfgs[0])
		}
		return enc.Encode(cfgs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tPRIMARY\tSECONDARY\tTERTIARY\tUPDATED\tBY")
	for _, c := range cfgs {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			c.Version, c.Primary, c.Secondary, c.Tertiary, c.UpdatedAt.Format(time.RFC3339), c.UpdatedBy)
	}
	return tw.Flush()
}
