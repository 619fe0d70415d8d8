package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"warf/config"
	"warf/internal/campaign"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type globalOptions struct {
	root     string
	logLevel string
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		PrintError(stderr, err)
		return 1
	}
	return 0
}

// PrintError writes err followed by each wrapped cause, one per line.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, err)
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(w, "caused by: %v\n", cause)
	}
}

func NewRootCommand(stdout io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "warf",
		Short:         "WARF - WebAssembly Runtimes Fuzzing project",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.root, "root", "", "directory holding targets/, debug/ and fuzzer-*/ (default: $WARF_ROOT or the current directory)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default: $LOG_LEVEL or info)")

	root.AddCommand(
		newListTargetsCommand(opts, stdout),
		newBuildCommand(opts),
		newTargetCommand(opts),
		newDebugCommand(opts),
		newContinuouslyCommand(opts, &continuouslyOptions{}),
	)
	return root
}

func newListTargetsCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list-targets",
		Short: "List all available targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), opts, func(c *campaign.Controller) error {
				names, err := c.Targets()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(stdout, name)
				}
				return nil
			})
		},
	}
}

func newBuildCommand(opts *globalOptions) *cobra.Command {
	var fuzzer string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build all targets for this specific fuzzer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), opts, func(c *campaign.Controller) error {
				return c.Build(cmd.Context(), fuzzer)
			})
		},
	}
	addFuzzerFlag(cmd, &fuzzer)
	return cmd
}

func newTargetCommand(opts *globalOptions) *cobra.Command {
	var fuzzer string
	cmd := &cobra.Command{
		Use:   "target <name>",
		Short: "Run one target with specific fuzzer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), opts, func(c *campaign.Controller) error {
				return c.RunTarget(cmd.Context(), fuzzer, args[0])
			})
		},
	}
	addFuzzerFlag(cmd, &fuzzer)
	return cmd
}

func newDebugCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "debug <name>",
		Short: "Debug one target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), opts, func(c *campaign.Controller) error {
				return c.Debug(cmd.Context(), args[0])
			})
		},
	}
}

type continuouslyOptions struct {
	filter    string
	timeout   string
	infinite  bool
	fuzzer    string
	update    bool
	maxCycles int
	file      string
}

func newContinuouslyCommand(opts *globalOptions, o *continuouslyOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continuously",
		Short: "Run all fuzz targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.campaignConfig(cmd)
			if err != nil {
				return err
			}
			return withController(cmd.Context(), opts, func(c *campaign.Controller) error {
				_, err := c.Run(cmd.Context(), cfg)
				return err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&o.filter, "filter", "q", "", "only run targets containing this string")
	flags.StringVarP(&o.timeout, "timeout", "t", "10", "timeout per target, in seconds or as a duration (10m)")
	flags.BoolVarP(&o.infinite, "infinite", "i", false, "run until the end of time (or Ctrl+C)")
	addFuzzerFlag(cmd, &o.fuzzer)
	flags.BoolVar(&o.update, "cargo-update", false, "run `cargo update` between cycles")
	flags.IntVar(&o.maxCycles, "max-cycles", 0, "stop an infinite campaign after this many cycles (0: never)")
	flags.StringVar(&o.file, "config", "", "YAML campaign file, flags given on the command line take precedence")
	return cmd
}

// campaignConfig layers the defaults, the campaign file and the flags that were set explicitly.
func (o *continuouslyOptions) campaignConfig(cmd *cobra.Command) (config.CampaignConfig, error) {
	cfg := config.DefaultCampaignConfig()
	if o.file != "" {
		var err error
		if cfg, err = config.LoadCampaignFile(o.file, cfg); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("filter") {
		cfg.Filter = o.filter
	}
	if flags.Changed("timeout") {
		timeout, err := config.ParseTimeout(o.timeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if flags.Changed("infinite") {
		cfg.Infinite = o.infinite
	}
	if flags.Changed("fuzzer") {
		cfg.Backend = o.fuzzer
	}
	if flags.Changed("cargo-update") {
		cfg.Update = o.update
	}
	if flags.Changed("max-cycles") {
		cfg.MaxCycles = o.maxCycles
	}
	return cfg, cfg.Validate()
}

func addFuzzerFlag(cmd *cobra.Command, fuzzer *string) {
	cmd.Flags().StringVar(fuzzer, "fuzzer", config.DefaultBackend, "which fuzzer to run: afl, honggfuzz or libfuzzer")
}

// withController builds the dependency graph for one command, hands the controller to fn
// and tears everything down afterwards.
func withController(ctx context.Context, opts *globalOptions, fn func(*campaign.Controller) error) (err error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if opts.root != "" {
		if err := cfg.SetRoot(opts.root); err != nil {
			return err
		}
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	var controller *campaign.Controller
	app := fx.New(
		fx.Supply(cfg),
		Module,
		fx.Populate(&controller),
	)
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("unable to start warf: %w", err)
	}
	defer func() {
		// the run context may be cancelled already, stopping must still flush logs and spans
		if stopErr := app.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	return fn(controller)
}
