package emcheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var flagHistoryLimit int

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past scans from the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := auditLog().History()
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded yet.")
				return nil
			}
			if err != nil {
				return err
			}
			if flagHistoryLimit > 0 && len(records) > flagHistoryLimit {
				records = records[:flagHistoryLimit]
			}
			out := cmd.OutOrStdout()
			if flagJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			table := tablewriter.NewWriter(out)
			table.Header("#", "SCAN ID", "WHEN", "TARGET", "RESPONSES", "FINDINGS", "NEW", "RULES")
			for i, r := range records {
				_ = table.Append([]string{
					strconv.Itoa(i),
					r.ScanID,
					r.Timestamp.Local().Format("2006-01-02 15:04"),
					r.Target,
					strconv.Itoa(r.Transactions),
					strconv.Itoa(r.TotalFindings),
					strconv.Itoa(r.NewFindings),
					strconv.FormatUint(r.RulesVersion, 10) + " " + r.RulesDigest,
				})
			}
			return table.Render()
		},
	}
	cmd.PersistentFlags().StringVar(&flagAuditDir, "audit-dir", "", "directory for the audit log (default user cache dir)")
	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "show at most this many scans (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <index>",
		Short: "Delete one scan record (index as shown by history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			if err := auditLog().Delete(i); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted record", i)
			return nil
		},
	})
	rootCmd.AddCommand(cmd)
}
