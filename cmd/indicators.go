// Package cmd provides the indicators command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"crits/api"
	"crits/bootstrap"
	"crits/config"
	"crits/core"
	"crits/service"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for indicators commands
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
	analyst    string
)

const defaultTimeout = 10 * time.Minute

// NewIndicatorsCmd creates the root indicators command with all subcommands
func NewIndicatorsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "indicators",
		Short: "Manage threat indicators",
		Long: `Manage threat indicators directly against the CRITs database.

Indicators can be bulk imported from CSV, added one at a time, searched by
confidence, impact and action, and removed. The registry subcommand seeds
campaigns, indicator actions and object types from a YAML document.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	root.PersistentFlags().StringVar(&analyst, "analyst", defaultAnalyst(), "Analyst recorded on changes")

	root.AddCommand(newImportCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newRegisterActionCmd())
	root.AddCommand(newRegistryCmd())
	root.AddCommand(newTokenCmd())

	return root
}

func defaultAnalyst() string {
	if v := os.Getenv("CRITS_ANALYST"); v != "" {
		return v
	}
	return "system"
}

// backend is the storage and services a command runs against
type backend struct {
	cfg      *config.Config
	storage  *bootstrap.StorageComponents
	services *bootstrap.ServiceComponents
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
}

func initBackend(ctx context.Context) (*backend, func(), error) {
	cfg, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	sc, err := bootstrap.InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, err
	}
	services, err := bootstrap.InitServices(ctx, cfg, sc, sugar)
	if err != nil {
		_ = sc.Close(context.Background())
		return nil, nil, err
	}
	if services.Dispatcher != nil {
		services.Dispatcher.Start()
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		services.Shutdown(shutdownCtx, sugar)
		if err := sc.Close(shutdownCtx); err != nil {
			sugar.Warnf("Failed to close MongoDB connection during cleanup: %v", err)
		}
		if err := logger.Sync(); err != nil {
			sugar.Debugf("Failed to sync logger during cleanup: %v", err)
		}
	}

	return &backend{cfg: cfg, storage: sc, services: services, logger: logger, sugar: sugar}, cleanup, nil
}

func startSpinner(suffix string) *spinner.Spinner {
	if outputJSON || quiet {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

// newImportCmd creates the 'import' subcommand
func newImportCmd() *cobra.Command {
	var source, method, reference, cascade string

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk import indicators from a CSV file",
		Long: `Import indicators from a CSV file with a header row. Recognized columns are
Indicator, Type, Campaign, Campaign Confidence, Confidence, Impact, Action,
Bucket List and Ticket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := service.ParseCascadeMode(cascade)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			f, err := openImportFile(args[0], b.cfg.API.UploadLimit)
			if err != nil {
				return err
			}
			defer f.Close()

			if method == "" {
				method = b.cfg.Import.DefaultMethod
			}

			s := startSpinner("Importing indicators...")
			result := b.services.Importer.ImportCSV(ctx, f, service.ImportRequest{
				Source:    source,
				Method:    method,
				Reference: reference,
				Analyst:   analyst,
				Cascade:   mode,
			})
			stopSpinner(s)

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			renderImportResult(cmd.OutOrStdout(), result)
			if !result.Success {
				return fmt.Errorf("import failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source name (required)")
	cmd.Flags().StringVar(&method, "method", "", "Acquisition method (default from import.default_method)")
	cmd.Flags().StringVar(&reference, "reference", "", "Source reference")
	cmd.Flags().StringVar(&cascade, "cascade", "none", "Domain/IP cascade: none, link or create")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

// newAddCmd creates the 'add' subcommand
func newAddCmd() *cobra.Command {
	var (
		req     service.AddIndicatorRequest
		source  string
		cascade string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or merge a single indicator",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := service.ParseCascadeMode(cascade)
			if err != nil {
				return err
			}
			req.Cascade = mode
			req.Analyst = analyst
			if source != "" {
				req.Source = core.SourceByName(source)
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result := b.services.Indicators.AddIndicator(ctx, req)
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			if !result.Success {
				return fmt.Errorf("%s", result.Message)
			}
			if !quiet {
				verb := "Merged into"
				if result.IsNew {
					verb = "Created"
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ %s indicator %s\n", verb, result.ObjectID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Type, "type", "", "Indicator type, e.g. \"URI - Domain Name\"")
	cmd.Flags().StringVar(&req.Value, "value", "", "Indicator value")
	cmd.Flags().StringVar(&source, "source", "", "Source name")
	cmd.Flags().StringVar(&req.Reference, "reference", "", "Source reference")
	cmd.Flags().StringVar(&req.Method, "method", "", "Acquisition method")
	cmd.Flags().StringVar(&req.Campaign, "campaign", "", "Campaign name")
	cmd.Flags().StringVar(&req.CampaignConfidence, "campaign-confidence", "", "Campaign confidence: low, medium or high")
	cmd.Flags().StringVar(&req.Confidence, "confidence", "", "Confidence rating")
	cmd.Flags().StringVar(&req.Impact, "impact", "", "Impact rating")
	cmd.Flags().StringVar(&req.BucketList, "bucket-list", "", "Comma separated bucket list tags")
	cmd.Flags().StringVar(&req.Ticket, "ticket", "", "Comma separated ticket numbers")
	cmd.Flags().StringVar(&cascade, "cascade", "none", "Domain/IP cascade: none, link or create")

	return cmd
}

// newShowCmd creates the 'show' subcommand
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <indicator-id>",
		Short: "Show an indicator and its related indicators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			details := b.services.Indicators.GetIndicatorDetails(ctx, args[0], analyst)
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), details)
			}
			if !details.Success {
				return fmt.Errorf("%s", details.Message)
			}
			renderIndicatorDetails(cmd.OutOrStdout(), details)
			return nil
		},
	}
}

// newSearchCmd creates the 'search' subcommand
func newSearchCmd() *cobra.Command {
	var q service.CISearch

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search indicators by type, confidence, impact and action",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			q.Analyst = analyst
			found, err := b.services.Indicators.SearchByCI(ctx, q)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), found)
			}
			renderIndicatorTable(cmd.OutOrStdout(), found)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Type, "type", "", "Indicator type")
	cmd.Flags().StringVar(&q.Confidence, "confidence", "", "Comma separated confidence ratings")
	cmd.Flags().StringVar(&q.Impact, "impact", "", "Comma separated impact ratings")
	cmd.Flags().StringVar(&q.Actions, "actions", "", "Comma separated action types")

	return cmd
}

// newRemoveCmd creates the 'remove' subcommand
func newRemoveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "remove <indicator-id>",
		Aliases: []string{"rm"},
		Short:   "Delete an indicator (administrators only)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !outputJSON {
				warningColor.Fprintf(cmd.OutOrStdout(), "Delete indicator %s? [y/N]: ", args[0])
				var answer string
				_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
				if answer != "y" && answer != "Y" {
					infoColor.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result := b.services.Indicators.RemoveIndicator(ctx, args[0], analyst)
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			if !result.Success {
				return fmt.Errorf("%s", result.Message)
			}
			if !quiet {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Indicator %s deleted\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

// newRegisterActionCmd creates the 'register-action' subcommand
func newRegisterActionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-action <name>",
		Short: "Register a new indicator action name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			added, err := b.services.Indicators.AddIndicatorAction(ctx, args[0], analyst)
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), map[string]bool{"success": added})
			}
			if added {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Registered action %q\n", args[0])
			} else {
				warningColor.Fprintf(cmd.OutOrStdout(), "Action %q already exists\n", args[0])
			}
			return nil
		},
	}
}

// newTokenCmd creates the 'token' subcommand
func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue an API bearer token for an analyst",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.InitConfig(configFile)
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled {
				warningColor.Fprintln(cmd.ErrOrStderr(), "auth is disabled; the API ignores bearer tokens")
			}
			token, err := api.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), map[string]string{"token": token, "expires_in": ttl.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
