// Package main is the entrypoint for the offline license generator. It is
// run by the license operator and never shipped with the application.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/config"
	"github.com/MacJediWizard/ocaquery/internal/issuer"
	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd(afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}

// globals holds persistent flags shared by every subcommand.
type globals struct {
	fs         afero.Fs
	configPath string
	keysDir    string
	outputDir  string
	debug      bool
}

func (g *globals) loadConfig() (*config.GeneratorConfig, error) {
	var (
		cfg *config.GeneratorConfig
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadGenerator(g.configPath)
	} else {
		cfg, err = config.LoadGeneratorDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.keysDir != "" {
		cfg.KeysDir = g.keysDir
	}
	if g.outputDir != "" {
		cfg.OutputDir = g.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (g *globals) logger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if g.debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func (g *globals) issuer(cmd *cobra.Command) (*issuer.Issuer, *config.GeneratorConfig, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	iss, err := issuer.New(issuer.Config{
		Fs:        g.fs,
		KeysDir:   cfg.KeysDir,
		OutputDir: cfg.OutputDir,
		Logger:    g.logger(cmd.ErrOrStderr()),
	})
	if err != nil {
		return nil, nil, err
	}
	return iss, cfg, nil
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	g := &globals{fs: fs}

	rootCmd := &cobra.Command{
		Use:   "licensegen",
		Short: "Offline license generator for OCA Query",
		Long: `licensegen creates the paid-license signing keypair and issues signed,
machine-bound licenses for OCA Query customers.

Run 'licensegen generate-keypair' once, embed the printed public key in the
application, then run 'licensegen issue-license' for each customer.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default ~/.ocaquery-licensegen/config.yml)")
	rootCmd.PersistentFlags().StringVar(&g.keysDir, "keys-dir", "", "Directory holding private.pem and public.pem")
	rootCmd.PersistentFlags().StringVar(&g.outputDir, "output-dir", "", "Directory for issued license records")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitConfigCmd(g),
		newGenerateKeypairCmd(g),
		newIssueLicenseCmd(g),
		newVerifyCmd(g),
		newEmbeddedKeysCmd(g),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "licensegen %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newGenerateKeypairCmd(g *globals) *cobra.Command {
	var (
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "generate-keypair",
		Short: "Generate the paid-license signing keypair",
		Long: `Generate a new RSA keypair for signing paid licenses.

The private key stays in the keys directory and must never leave the
operator's machine. The public key must be copied into
internal/license/keys/paid_public.pem before building the application.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, cfg, err := g.issuer(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("bits") {
				bits = cfg.KeyBits
			}

			kp, err := iss.GenerateKeyPair(bits, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", kp.PrivatePath)
			fmt.Fprintf(out, "Public key:  %s\n\n", kp.PublicPath)
			fmt.Fprintln(out, "Embed this public key as internal/license/keys/paid_public.pem:")
			fmt.Fprintln(out)
			fmt.Fprint(out, string(kp.PublicPEM))
			return nil
		},
	}

	cmd.Flags().IntVar(&bits, "bits", issuer.DefaultKeyBits, "RSA modulus size in bits (minimum 2048)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing keypair")

	return cmd
}

func newIssueLicenseCmd(g *globals) *cobra.Command {
	var (
		email     string
		tier      string
		machineID string
		duration  time.Duration
		years     int
		months    int
	)

	cmd := &cobra.Command{
		Use:   "issue-license",
		Short: "Issue a signed paid license",
		Long: `Issue a paid license bound to a customer's machine.

The customer finds their machine ID with 'ocaquery license machine-id'.
The signed license is printed to stdout and a copy is written to the
output directory.`,
		Example: `  licensegen issue-license --email ops@example.com --tier professional --years 1 --machine-id 3f9a...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, cfg, err := g.issuer(cmd)
			if err != nil {
				return err
			}

			req := issuer.IssueRequest{
				Email:     email,
				Tier:      license.Tier(strings.ToLower(strings.TrimSpace(tier))),
				MachineID: machineID,
				Duration:  duration,
				Years:     years,
				Months:    months,
			}
			if req.Duration == 0 && req.Years == 0 && req.Months == 0 {
				req.Duration = cfg.DefaultDuration
			}

			issued, err := iss.IssueLicense(req)
			if err != nil {
				return fmt.Errorf("issue license: %w", err)
			}

			doc := issued.Document
			errOut := cmd.ErrOrStderr()
			fmt.Fprintln(errOut, "License issued")
			fmt.Fprintf(errOut, "  Email:      %s\n", doc.Email)
			fmt.Fprintf(errOut, "  Tier:       %s\n", doc.Tier.DisplayName())
			fmt.Fprintf(errOut, "  Machine ID: %s\n", doc.MachineID)
			fmt.Fprintf(errOut, "  Issued:     %s\n", license.FormatTimestamp(doc.IssuedAt))
			fmt.Fprintf(errOut, "  Expires:    %s\n", license.FormatTimestamp(doc.ExpiresAt))
			fmt.Fprintf(errOut, "  Saved to:   %s\n\n", issued.Path)

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(issued.JSON))
			return err
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Customer email (required)")
	cmd.Flags().StringVar(&tier, "tier", "", "License tier: professional or enterprise (required)")
	cmd.Flags().StringVar(&machineID, "machine-id", "", "Customer machine ID (required)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "License duration, e.g. 8760h")
	cmd.Flags().IntVar(&years, "years", 0, "License duration in calendar years")
	cmd.Flags().IntVar(&months, "months", 0, "License duration in calendar months")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("tier")
	_ = cmd.MarkFlagRequired("machine-id")
	cmd.MarkFlagsMutuallyExclusive("duration", "years")
	cmd.MarkFlagsMutuallyExclusive("duration", "months")

	return cmd
}

func newVerifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <license-file>",
		Short: "Verify the signature and dates of a license file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, _, err := g.issuer(cmd)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(g.fs, args[0])
			if err != nil {
				return fmt.Errorf("read license file: %w", err)
			}

			res, err := iss.VerifyLicense(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.String())
			if !res.Valid {
				return fmt.Errorf("license is not valid: %s", res.Reason)
			}
			if res.License.Type == license.TypePaid {
				if embedded, err := matchesEmbeddedPaidKey(iss); err == nil && !embedded {
					fmt.Fprintln(out, "Warning: the application embeds a different paid public key; this license will be rejected by the shipped build.")
				}
			}
			return nil
		},
	}
}

func (g *globals) resolvedConfigPath() (string, error) {
	if g.configPath != "" {
		return g.configPath, nil
	}
	return config.DefaultGeneratorConfigPath()
}

func newInitConfigCmd(g *globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			path, err := g.resolvedConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newEmbeddedKeysCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "embedded-keys",
		Short: "Show the public keys compiled into this build",
		Long: `Print the trial and paid public keys embedded in this build and report
whether the paid key matches the keypair in the keys directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Trial public key:")
			fmt.Fprint(out, string(license.TrialPublicKeyPEM()))
			fmt.Fprintln(out, "Paid public key:")
			fmt.Fprint(out, string(license.PaidPublicKeyPEM()))
			fmt.Fprintln(out)

			iss, _, err := g.issuer(cmd)
			if err != nil {
				return err
			}
			matches, err := matchesEmbeddedPaidKey(iss)
			switch {
			case errors.Is(err, issuer.ErrPrivateKeyNotFound):
				fmt.Fprintln(out, "Operator keypair: not generated")
			case err != nil:
				return err
			case matches:
				fmt.Fprintln(out, "Operator keypair: matches the embedded paid key")
			default:
				fmt.Fprintln(out, "Operator keypair: differs from the embedded paid key")
			}
			return nil
		},
	}
}

// matchesEmbeddedPaidKey reports whether the operator's public key is the
// paid key compiled into the application.
func matchesEmbeddedPaidKey(iss *issuer.Issuer) (bool, error) {
	embedded, err := license.ParsePublicKeyPEM(license.PaidPublicKeyPEM())
	if err != nil {
		return false, err
	}
	operator, err := iss.PublicKey()
	if err != nil {
		return false, err
	}
	return operator.Equal(embedded), nil
}
