package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medsafe-analysis-server/internal/app"
	"github.com/medsafe-analysis-server/internal/config"
	"github.com/medsafe-analysis-server/internal/database"
	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/logging"
	"github.com/medsafe-analysis-server/pkg/medname"
)

// loadConfig reads .env, the optional config file and the environment
func loadConfig(flags *globalFlags) (*domain.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	var opts []config.Option
	if flags.configFile != "" {
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	manager, err := config.NewManager(opts...)
	if err != nil {
		return nil, err
	}

	cfg := manager.GetConfig()
	if flags.offline {
		config.ApplyOffline(cfg)
	}
	if cfg.Audit.Driver == "sqlite" {
		if err := config.EnsureDataDir(config.DefaultDataDir()); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// withEngine builds the engine, runs fn and closes the engine again
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, engine *app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := logging.NewWithOutput(cfg.Logging, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build analysis engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Shutdown was not clean")
		}
	}()

	return fn(ctx, engine)
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// analyzeOptions holds the patient factor flags of the analyze command
type analyzeOptions struct {
	age                int
	conditions         []string
	allergies          []string
	pregnant           bool
	currentMedications []string
}

// request turns the flags into an analysis request. Allergy flags take the
// form "allergen" or "allergen:synonym1|synonym2".
func (o *analyzeOptions) request(medication string, ageSet bool) domain.AnalysisRequest {
	req := domain.AnalysisRequest{MedicationName: medication}

	factors := &domain.PatientFactors{
		Conditions:         o.conditions,
		Pregnant:           o.pregnant,
		CurrentMedications: o.currentMedications,
	}
	if ageSet {
		age := o.age
		factors.Age = &age
	}
	for _, raw := range o.allergies {
		allergen, synonyms, _ := strings.Cut(raw, ":")
		allergy := domain.Allergy{Allergen: strings.TrimSpace(allergen)}
		if synonyms != "" {
			for _, s := range strings.Split(synonyms, "|") {
				if s = strings.TrimSpace(s); s != "" {
					allergy.Synonyms = append(allergy.Synonyms, s)
				}
			}
		}
		factors.Allergies = append(factors.Allergies, allergy)
	}

	if factors.Age == nil && len(factors.Conditions) == 0 && len(factors.Allergies) == 0 &&
		!factors.Pregnant && len(factors.CurrentMedications) == 0 {
		return req
	}
	req.PatientFactors = factors
	return req
}

func analyzeCmd(flags *globalFlags) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <medication>",
		Short: "Analyze a medication against patient factors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(args[0], cmd.Flags().Changed("age"))
			return withEngine(cmd, flags, func(ctx context.Context, engine *app.App) error {
				result, err := engine.Analyzer.Analyze(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().IntVar(&opts.age, "age", 0, "patient age in years")
	cmd.Flags().StringSliceVar(&opts.conditions, "condition", nil, "medical condition (repeatable)")
	cmd.Flags().StringSliceVar(&opts.allergies, "allergy", nil, "allergen, optionally with synonyms as allergen:syn1|syn2 (repeatable)")
	cmd.Flags().BoolVar(&opts.pregnant, "pregnant", false, "patient is pregnant")
	cmd.Flags().StringSliceVar(&opts.currentMedications, "current", nil, "medication currently taken (repeatable)")

	return cmd
}

func lookupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <medication>",
		Short: "Resolve a medication name against the registries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := medname.Validate(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, flags, func(ctx context.Context, engine *app.App) error {
				record, err := engine.Resolver.Resolve(ctx, name)
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					engine.Logger.WithError(err).Warn("Medication lookup degraded")
				}
				return writeJSON(cmd.OutOrStdout(), record.Info())
			})
		},
	}
}

func validateConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintf(out, "  completion provider: %s\n", providerLabel(cfg.Completion.Provider, cfg.Completion.APIKey))
			fmt.Fprintf(out, "  openFDA enabled:     %t\n", cfg.Registries.OpenFDA.Enabled)
			fmt.Fprintf(out, "  RxNav enabled:       %t\n", cfg.Registries.RxNav.Enabled)
			fmt.Fprintf(out, "  audit driver:        %s\n", cfg.Audit.Driver)
			fmt.Fprintf(out, "  shared cache:        %t\n", cfg.Cache.RedisURL != "")
			return nil
		},
	}
}

func providerLabel(provider, apiKey string) string {
	if provider == "" || provider == "none" {
		return "none"
	}
	if apiKey == "" {
		return provider + " (no API key, generation disabled)"
	}
	return provider
}

func auditCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit store",
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every audit event as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, engine *app.App) error {
				if engine.AuditStore == nil {
					return fmt.Errorf("audit driver %q is not queryable", engine.Config.Audit.Driver)
				}

				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create export file: %w", err)
					}
					defer f.Close()
					w = f
				}
				return engine.AuditStore.ExportJSON(ctx, w)
			})
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "-", "file to write, - for stdout")

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, engine *app.App) error {
				if engine.AuditStore == nil {
					return fmt.Errorf("audit driver %q is not queryable", engine.Config.Audit.Driver)
				}
				n, err := engine.AuditStore.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.AddCommand(exportCmd, countCmd)
	return cmd
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL audit schema",
	}

	run := func(fn func(cmd *cobra.Command, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := logging.NewWithOutput(cfg.Logging, cmd.ErrOrStderr())

			url := database.ConfigFrom(cfg.Database).URL()
			runner, err := database.NewMigrationRunner(url, cfg.Database.MigrationsPath, logger)
			if err != nil {
				return err
			}
			defer runner.Close()
			return fn(cmd, runner)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
				return runner.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
				return runner.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, runner *database.MigrationRunner) error {
				version, dirty, err := runner.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
	)
	return cmd
}
