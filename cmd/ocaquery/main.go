// Package main is the entrypoint for the OCA Query command-line tool. The
// license commands manage the local license: first-run trial, activation of
// purchased licenses and periodic re-validation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/config"
	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/MacJediWizard/ocaquery/internal/machineid"
	"github.com/MacJediWizard/ocaquery/internal/metrics"
	"github.com/MacJediWizard/ocaquery/internal/storage"
	"github.com/filecoin-project/go-clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	a := newApp(machineid.Default, nil, nil)
	if err := execute(context.Background(), a, newRootCmd(a)); err != nil {
		os.Exit(1)
	}
}

// execute runs the command tree and releases the app's resources however the
// command ends. Cobra skips post-run hooks when RunE fails.
func execute(ctx context.Context, a *app, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// app carries the dependencies and persistent flags shared by the commands.
type app struct {
	machine license.MachineIDSource
	keys    *license.KeyRing
	clock   clock.Clock

	configPath string
	dataDir    string
	logFile    string
	debug      bool

	cfg       *config.AppConfig
	logger    zerolog.Logger
	logCloser io.Closer
	registry  *prometheus.Registry
}

// newApp creates an app. A nil key ring selects the embedded keys and a nil
// clock the wall clock.
func newApp(machine license.MachineIDSource, keys *license.KeyRing, clk clock.Clock) *app {
	return &app{machine: machine, keys: keys, clock: clk}
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	var (
		cfg *config.AppConfig
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadApp(a.configPath)
	} else {
		cfg, err = config.LoadAppDefault()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logFile != "" {
		cfg.LogFile = a.logFile
	}
	if a.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.logger, a.logCloser = newLogger(cmd.ErrOrStderr(), cfg.LogFile, cfg.LogMaxSizeMB, cfg.Debug)
	return nil
}

func (a *app) close() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}

// manager wires the license manager against the configured data directory.
// Validation outcomes are recorded in the app's metrics registry.
func (a *app) manager(cmd *cobra.Command) (*license.Manager, error) {
	if err := a.loadConfig(cmd); err != nil {
		return nil, err
	}

	keys := a.keys
	if keys == nil {
		k, err := license.DefaultKeyRing()
		if err != nil {
			return nil, fmt.Errorf("load license keys: %w", err)
		}
		keys = k
	}

	store, err := storage.NewFileStore(a.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a.logger.Debug().Str("machine_id", shortID(a.machine.MachineID())).Msg("machine identity resolved")

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lm, err := metrics.NewLicenseMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	validator := license.NewValidator(license.ValidatorConfig{
		Keys:     keys,
		Machine:  a.machine,
		Clock:    a.clock,
		Logger:   a.logger,
		Observer: lm,
	})

	return license.NewManager(license.ManagerConfig{
		Store:     store,
		Validator: validator,
		Machine:   a.machine,
		Clock:     a.clock,
		Logger:    a.logger,
	})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ocaquery",
		Short: "OCA Query command-line tool",
		Long: `ocaquery is the command-line companion of the OCA Query desktop client.
Use 'ocaquery license' to inspect and manage the local license.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.ocaquery/config.yml)")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "Directory holding the license and install date")
	rootCmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "Write JSON logs to a rotated file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitConfigCmd(a),
		newLicenseCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ocaquery %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (a *app) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.DefaultAppConfigPath()
}

func newInitConfigCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the effective configuration to the config file",
		Long: `Write the configuration in effect (defaults, environment and flags) to
the config file so it can be edited. An existing file is kept unless --force
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			path, err := a.resolvedConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
			}
			if err := a.cfg.Save(path); err != nil {
				return err
			}
			a.logger.Info().Str("path", path).Msg("configuration written")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newLicenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the local license",
	}

	cmd.AddCommand(
		newMachineIDCmd(a),
		newInitTrialCmd(a),
		newStatusCmd(a),
		newActivateCmd(a),
		newFeaturesCmd(a),
		newWatchCmd(a),
	)

	return cmd
}

func newMachineIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "machine-id",
		Short: "Print this machine's license fingerprint",
		Long: `Print the fingerprint that licenses are bound to. Send it to your vendor
when purchasing a license.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.machine.MachineID())
			return err
		},
	}
}

func newInitTrialCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-trial",
		Short: "Create a trial license on first run",
		Long: `Create a 30-day trial license bound to this machine. Nothing happens
when a license is already stored. The trial always starts at the recorded
install date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager(cmd)
			if err != nil {
				return err
			}
			created, err := mgr.InitializeTrial(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintln(out, "Trial license created.")
			} else {
				fmt.Fprintln(out, "A license is already installed.")
			}
			printResult(out, mgr.Check(cmd.Context()))
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Validate the stored license",
		Long: `Validate the stored license and print the result. The command exits
non-zero when the license is not valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager(cmd)
			if err != nil {
				return err
			}
			result := mgr.Check(cmd.Context())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printResult(out, result)
			}
			if !result.Valid {
				return fmt.Errorf("license is not valid: %s", result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func newActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <license-file|->",
		Short: "Install a license file",
		Long: `Validate a license file and install it when it is valid for this machine.
Use - to read the license from stdin. An invalid license never replaces the
installed one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readLicenseArg(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd)
			if err != nil {
				return err
			}

			result, err := mgr.Activate(cmd.Context(), data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !result.Valid {
				printResult(out, result)
				return fmt.Errorf("license rejected: %s", result.Reason)
			}
			fmt.Fprintln(out, "License activated.")
			printResult(out, result)
			return nil
		},
	}
}

func readLicenseArg(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read license from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(filepath.Clean(arg))
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}
	return data, nil
}

func newFeaturesCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Show the features unlocked by the current license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				for _, info := range license.GetAllTierInfo() {
					printFeatures(out, info.DisplayName, info.Features)
				}
				return nil
			}

			mgr, err := a.manager(cmd)
			if err != nil {
				return err
			}
			result := mgr.Check(cmd.Context())
			tier := license.TierTrial
			if result.Valid {
				tier = result.License.Tier
			}
			printFeatures(out, tier.DisplayName(), mgr.Features())
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Show the features of every tier")

	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate the license periodically",
		Long: `Run in the foreground and re-validate the stored license on the configured
schedule, logging expiry warnings. With a metrics address, license metrics
are served in Prometheus format at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager(cmd)
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			return runWatch(cmd.Context(), a, mgr, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	return cmd
}

func runWatch(ctx context.Context, a *app, mgr *license.Manager, metricsAddr string) error {
	logger := a.logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	srvErr := make(chan error, 1)
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("listen on metrics address: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.registry))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		logger.Info().Str("addr", ln.Addr().String()).Msg("serving license metrics")
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	mgr.RunNow()
	if err := mgr.Start(a.cfg.RevalidateSchedule); err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-srvErr:
		logger.Error().Err(runErr).Msg("metrics server failed")
	}

	<-mgr.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}
	return runErr
}

func printResult(w io.Writer, r license.ValidationResult) {
	if !r.Valid {
		fmt.Fprintf(w, "Status:   invalid (%s)\n", r.Reason)
		fmt.Fprintf(w, "Message:  %s\n", r.Message)
		return
	}
	doc := r.License
	fmt.Fprintln(w, "Status:   valid")
	fmt.Fprintf(w, "Tier:     %s\n", doc.Tier.DisplayName())
	fmt.Fprintf(w, "Type:     %s\n", doc.Type)
	fmt.Fprintf(w, "Email:    %s\n", doc.Email)
	fmt.Fprintf(w, "Expires:  %s (%d days)\n", doc.ExpiresAt.Format(time.DateOnly), r.DaysRemaining)
	switch {
	case r.IsExpiringSoonFinal:
		fmt.Fprintln(w, "Warning:  license expires within a week")
	case r.IsExpiringSoon:
		fmt.Fprintln(w, "Warning:  license expires within a month")
	}
}

func printFeatures(w io.Writer, name string, f license.TierFeatureSet) {
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  Max rows:        %s\n", formatLimit(f.MaxRows))
	fmt.Fprintf(w, "  Max connections: %s\n", formatLimit(f.MaxConnections))
	for _, feat := range license.AllFeatures() {
		mark := "no"
		if f.Has(feat) {
			mark = "yes"
		}
		fmt.Fprintf(w, "  %-22s %s\n", string(feat)+":", mark)
	}
}

// shortID truncates a fingerprint for logging.
func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

func formatLimit(n int) string {
	if license.IsUnlimited(n) {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
