package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/compliscope/compliscope/internal/analytics"
	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/catalog"
	"github.com/compliscope/compliscope/internal/config"
	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/migrations"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/service"
	"github.com/compliscope/compliscope/internal/simulation"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "compliscope",
		Short:        "Predictive compliance simulation tools",
		SilenceUsage: true,
	}

	root.AddCommand(
		newScenariosCmd(),
		newSimulateCmd(),
		newCompareCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newScenariosCmd() *cobra.Command {
	var industry string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the simulation scenarios of an industry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if industry == "" {
				fmt.Fprintf(os.Stderr, "Industries: %v\n", catalog.Industries())
				return fmt.Errorf("--industry is required")
			}

			scenarios, err := catalog.NewStatic().GetScenarios(cmd.Context(), industry)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCHANGES")
			for _, s := range scenarios {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.ID, s.Name, len(s.RegulationChanges))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&industry, "industry", "i", "", "industry to list (e.g. healthcare)")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var reportPath, scenarioID, out, name string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a scenario against a saved compliance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report models.ComplianceReport
			if err := readJSON(reportPath, &report); err != nil {
				return err
			}

			logger := stderrLogger()
			runner := simulation.NewRunner(catalog.NewStatic(), simulation.WithLogger(logger))
			analysis, err := runner.Run(cmd.Context(), &report, scenarioID)
			if err != nil {
				return err
			}

			if out == "" {
				return writeJSON(analysis)
			}

			if name == "" {
				name = report.DocumentName
			}
			svc := service.New(service.Deps{Logger: logger})
			export, err := svc.SimulationPDF(cmd.Context(), name, analysis)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, export.Data, 0o644); err != nil {
				return fmt.Errorf("write file: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Simulation export written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "compliance report JSON file")
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a PDF export instead of printing the analysis")
	cmd.Flags().StringVar(&name, "name", "", "document name on the export (default: report name)")
	_ = cmd.MarkFlagRequired("report")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var historyPath, currentPath, metric string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare past predictions with the reports that followed them",
		RunE: func(cmd *cobra.Command, args []string) error {
			var history []models.ComplianceReport
			if err := readJSON(historyPath, &history); err != nil {
				return err
			}

			var current *models.PredictiveAnalysis
			if currentPath != "" {
				current = &models.PredictiveAnalysis{}
				if err := readJSON(currentPath, current); err != nil {
					return err
				}
			}

			cmp, err := analytics.CompareTrends(current, history, history, models.Metric(metric))
			if err != nil {
				return err
			}
			return writeJSON(cmp)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "", "report history JSON file")
	cmd.Flags().StringVar(&currentPath, "current", "", "optional predictive analysis JSON file")
	cmd.Flags().StringVarP(&metric, "metric", "m", string(models.MetricOverall), "score to chart")
	_ = cmd.MarkFlagRequired("history")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := kv.Connect(kv.PostgresConfig{DSN: cfg.Database.DSN()})
			if err != nil {
				return err
			}
			defer db.Close()

			if args[0] == "status" {
				return migrations.Status(db.DB)
			}
			if err := migrations.Up(db.DB); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to configuration file")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var configPath, userID, email, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.Role(role).Valid() {
				return fmt.Errorf("invalid --role %q", role)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc := auth.NewService(auth.Config{
				JWTSecret:   cfg.Auth.JWTSecret,
				TokenExpiry: cfg.Auth.TokenExpiry,
				Issuer:      cfg.Auth.Issuer,
			})
			token, err := svc.IssueToken(userID, email, auth.Role(role))
			if err != nil {
				return err
			}
			return writeJSON(token)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "user or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

