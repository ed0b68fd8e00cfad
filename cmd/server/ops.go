package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
)

var (
	flagTenant string
	flagBudget string
	flagLine   string
	flagAmount string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", db.Driver())
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-classify the variances of one budget",
	RunE:  runRefresh,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the spend gate whether an amount may be spent",
	RunE:  runCheck,
}

func init() {
	for _, c := range []*cobra.Command{refreshCmd, checkCmd} {
		c.Flags().StringVar(&flagTenant, "tenant", "", "Tenant id (required)")
		c.Flags().StringVar(&flagBudget, "budget", "", "Budget id (required)")
		c.MarkFlagRequired("tenant")
		c.MarkFlagRequired("budget")
	}
	checkCmd.Flags().StringVar(&flagLine, "line", "", "Budget line id (omit for the whole budget)")
	checkCmd.Flags().StringVar(&flagAmount, "amount", "", "Proposed amount, e.g. 1250.00 (required)")
	checkCmd.MarkFlagRequired("amount")
}

// tenantService opens the database and returns a service for --tenant.
// The caller must run the returned close func.
func tenantService(cmd *cobra.Command) (*budget.Service, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)
	db, err := openDB(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	st, err := db.ForTenant(budget.TenantID(flagTenant))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	opts, err := serviceOptions(cfg, log)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return budget.NewService(st, opts...), db.Close, nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	svc, closeDB, err := tenantService(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := svc.RefreshVariances(cmd.Context(), budget.BudgetID(flagBudget))
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}

func printReport(out io.Writer, report budget.RefreshReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tACCOUNT\tTYPE\tLEVEL\tBUDGETED\tSPENT\tPERCENT\t")
	for _, o := range report.Outcomes {
		v := o.Variance
		level := string(v.AlertLevel)
		if o.Escalated {
			level += " (escalated)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s%%\t\n",
			o.Line.LineNumber,
			o.Line.AccountCode,
			v.VarianceType,
			level,
			v.BudgetedAmount.StringFixed(2),
			v.ActualAmount.Add(v.CommittedAmount).StringFixed(2),
			v.VariancePercent.StringFixed(1),
		)
	}
	tw.Flush()
	for id, err := range report.Failed {
		fmt.Fprintf(out, "line %s failed: %v\n", id, err)
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	amount, err := decimal.NewFromString(flagAmount)
	if err != nil {
		return fmt.Errorf("--amount: %w", err)
	}
	svc, closeDB, err := tenantService(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	d, err := svc.CheckEnforcement(cmd.Context(), budget.CheckRequest{
		BudgetID:       budget.BudgetID(flagBudget),
		LineID:         budget.LineID(flagLine),
		ProposedAmount: amount,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(api.DecisionDTO{
		CanProceed:       d.CanProceed,
		WouldExceed:      d.WouldExceed,
		RemainingBalance: d.RemainingBalance,
		EnforcementMode:  string(d.EnforcementMode),
		Message:          d.Message,
	})
}
