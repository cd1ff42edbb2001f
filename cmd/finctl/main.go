package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/crestline-dms/crestline/internal/app"
	"github.com/crestline-dms/crestline/internal/coa"
	"github.com/crestline-dms/crestline/internal/periods"
	"github.com/crestline-dms/crestline/internal/platform/db"
	"github.com/crestline-dms/crestline/jobs"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finctl",
		Short: "Back-office ledger operations",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newPeriodsCommand())
	rootCmd.AddCommand(newCoaCommand())
	rootCmd.AddCommand(newJobsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPeriodsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "Manage the fiscal calendar",
	}

	var (
		year       int
		startMonth int
		count      int
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate monthly periods for a fiscal year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			service := periods.NewService(periods.NewRepository(pool), nil, nil)
			generated, err := service.GenerateYear(cmd.Context(), periods.GenerateInput{
				FiscalYear:  year,
				StartMonth:  startMonth,
				PeriodCount: count,
			})
			if err != nil {
				return err
			}
			for _, p := range generated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s .. %s\n", p.Label(),
					p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
			}
			return nil
		},
	}
	generate.Flags().IntVar(&year, "year", 0, "fiscal year (default: current year)")
	generate.Flags().IntVar(&startMonth, "start-month", 1, "first month of the fiscal year")
	generate.Flags().IntVar(&count, "count", 12, "number of periods to generate")
	cmd.AddCommand(generate)

	return cmd
}

// seedAccounts is the standard dealership chart: vehicle inventory and
// sales accounts on top of the usual balance sheet skeleton.
var seedAccounts = []struct {
	Code string
	Name string
	Type coa.AccountType
}{
	{"1000", "Cash", coa.AccountTypeAsset},
	{"1100", "Accounts Receivable", coa.AccountTypeAsset},
	{"1200", "New Vehicle Inventory", coa.AccountTypeAsset},
	{"1210", "Used Vehicle Inventory", coa.AccountTypeAsset},
	{"1300", "Parts Inventory", coa.AccountTypeAsset},
	{"2000", "Accounts Payable", coa.AccountTypeLiability},
	{"2100", "Vehicle Floor Plan", coa.AccountTypeLiability},
	{"2200", "Sales Tax Payable", coa.AccountTypeLiability},
	{"3000", "Owner Equity", coa.AccountTypeEquity},
	{"3100", "Retained Earnings", coa.AccountTypeEquity},
	{"4000", "New Vehicle Sales", coa.AccountTypeRevenue},
	{"4100", "Used Vehicle Sales", coa.AccountTypeRevenue},
	{"4200", "Service Revenue", coa.AccountTypeRevenue},
	{"4300", "Parts Revenue", coa.AccountTypeRevenue},
	{"5000", "Cost of Vehicle Sales", coa.AccountTypeExpense},
	{"5100", "Cost of Parts Sold", coa.AccountTypeExpense},
	{"6000", "Payroll Expense", coa.AccountTypeExpense},
	{"6100", "Rent Expense", coa.AccountTypeExpense},
}

func newCoaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coa",
		Short: "Manage the chart of accounts",
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the standard dealership chart of accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			service := coa.NewService(coa.NewRepository(pool), nil)
			created := 0
			for _, a := range seedAccounts {
				_, err := service.Create(cmd.Context(), coa.CreateInput{
					Code: a.Code,
					Name: a.Name,
					Type: a.Type,
				})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", a.Code, err)
					continue
				}
				created++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts\n", created)
			return nil
		},
	}
	cmd.AddCommand(seed)

	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger background jobs",
	}

	var fiscalYear int
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Enqueue a ledger integrity scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			info, err := client.EnqueueGLIntegrityScan(cmd.Context(), jobs.GLIntegrityScanPayload{FiscalYear: fiscalYear})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", info.Type, info.ID)
			return nil
		},
	}
	scan.Flags().IntVar(&fiscalYear, "year", 0, "limit the scan to one fiscal year")
	cmd.AddCommand(scan)

	return cmd
}
