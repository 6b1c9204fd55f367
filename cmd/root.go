package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/cdp"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/pw"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser/stealth"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/ledger"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/observability"
)

const defaultEnvFile = ".env"

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app is the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	envFile string

	cfg    *config.Config
	logger *zap.Logger

	newLauncher func(cfg config.Interface, logger *zap.Logger) (browser.Launcher, error)
	openLedger  func(ctx context.Context, url string, logger *zap.Logger) (*ledger.Store, func(), error)
}

func newApp() *app {
	return &app{
		newLauncher: newLauncher,
		openLedger:  ledger.Open,
	}
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newApp())
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "attendance-bot",
		Short: "Marks you present in the Slack attendance survey.",
		Long: `attendance-bot opens the configured Slack channel with a saved browser
session, finds the newest attendance survey and selects "Present".

Run "attendance-bot login" once in a terminal to create the session.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the environment is read")
	root.PersistentFlags().Bool("headless", false, "run the browser without a window (overrides config/env)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, NewRootCommand(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// The orchestrator has already logged the failure.
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Interrupted")
		return 1
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return 1
}

// initialize loads the dotenv file, the config file and the environment,
// then sets up logging.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := loadDotEnv(a.envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		return err
	}
	if err := readConfigFile(v, a.cfgFile); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("headless"); f != nil {
		if err := v.BindPFlag("browser.headless", f); err != nil {
			return err
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "attendance-bot"})
		return fmt.Errorf("failed to load or validate config: %w", err)
	}

	observability.InitializeLogger(cfg.Logger())
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded",
		zap.String("version", Version),
		zap.String("engine", cfg.Browser().Engine),
		zap.Bool("headless", cfg.Browser().Headless),
		zap.Bool("profile_mode", cfg.Session().ProfileDir != ""),
	)
	return nil
}

// loadDotEnv exports the file's variables without overriding ones already
// set. A missing default file is fine; a missing explicit one is not.
func loadDotEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// newLauncher picks the automation driver named by browser.engine.
func newLauncher(cfg config.Interface, logger *zap.Logger) (browser.Launcher, error) {
	persona := stealth.DefaultPersona
	switch cfg.Browser().Engine {
	case config.EngineChromedp:
		return cdp.NewLauncher(logger, persona), nil
	case config.EnginePlaywright:
		return pw.NewLauncher(logger, persona, cfg.Browser().InstallDrivers), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Browser().Engine)
	}
}
