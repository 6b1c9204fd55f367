package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/attendance"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/auth"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/config"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/diagnostics"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/ledger"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/orchestrator"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/readiness"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/session"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/slack"
)

func newRunCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Validate the session, log in if allowed, and mark present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if allow, _ := cmd.Flags().GetBool("allow-interactive"); allow {
				a.cfg.SetAllowInteractiveLogin(true)
			}
			return a.withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Result {
				return o.RunOnce(ctx)
			})
		},
	}
	c.Flags().Bool("allow-interactive", false, "permit a login, including a security-code prompt, when the session is invalid")
	return c
}

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in interactively and save the session",
		Long: `login runs the password sign-in, prompting for a security code on this
terminal if Slack asks for one, and saves the session for later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.SetAllowInteractiveLogin(true)
			return a.withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Result {
				return o.Bootstrap(ctx)
			})
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the saved session still opens the channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) orchestrator.Result {
				return o.Check(ctx)
			})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := a.cfg.Database().URL
			if url == "" {
				return errors.New("database.url is not configured (ATTENDANCE_DATABASE_URL or DATABASE_URL)")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			store, closeDB, err := a.openLedger(cmd.Context(), url, a.logger)
			if err != nil {
				return err
			}
			defer closeDB()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return writeTable(cmd.OutOrStdout(), entries)
		},
	}
	c.Flags().IntP("limit", "n", 20, "number of runs to show")
	c.Flags().Bool("json", false, "print JSON instead of a table")
	return c
}

// withOrchestrator wires the components, runs body and turns the result into
// the command's exit status.
func (a *app) withOrchestrator(cmd *cobra.Command, body func(context.Context, *orchestrator.Orchestrator) orchestrator.Result) error {
	ctx := cmd.Context()
	comps, err := a.buildComponents(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer comps.Shutdown()

	res := body(ctx, comps.Orchestrator)
	summary := res.Status.String()
	if res.Outcome != attendance.Unknown {
		summary += " " + res.Outcome.String()
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)

	if res.Status == orchestrator.StatusSucceeded {
		return nil
	}
	return &ExitError{Code: res.Status.ExitCode(), Err: res.Err}
}

// components holds what one invocation wires together.
type components struct {
	Orchestrator *orchestrator.Orchestrator
	closeLedger  func()
}

// Shutdown releases the ledger connection, if any.
func (c *components) Shutdown() {
	if c.closeLedger != nil {
		c.closeLedger()
	}
}

// buildComponents handles dependency injection. The attempt counter is
// shared by the login machine and the readiness poller's resolver, and the
// orchestrator resets it per run.
func (a *app) buildComponents(ctx context.Context) (*components, error) {
	cfg, logger := a.cfg, a.logger

	launcher, err := a.newLauncher(cfg, logger)
	if err != nil {
		return nil, err
	}

	target := slack.NewTarget(cfg.Slack())
	store := session.NewStore(cfg.Session(), target.Domain, logger)
	base := baseLaunchOptions(cfg.Browser())
	capturer := diagnostics.New(cfg.Debug(), logger)

	validator := session.NewValidator(store, launcher, base, target, cfg.Timeouts(), logger)

	machine := auth.NewMachine(auth.Settings{
		Target:      target,
		Credentials: cfg.Credentials(),
		Auth:        cfg.Auth(),
		Tick:        cfg.Timeouts().Tick,
	}, store, launcher, base, logger, auth.WithCapturer(capturer))

	attempts := auth.NewAttempts(cfg.Auth().MaxWorkspaceAttempts)
	poller := readiness.NewPoller(target, cfg.Timeouts().Tick, logger,
		readiness.WithResolver(machine.Resolver(attempts)))
	engine := attendance.NewEngine(target, cfg.Slack().SurveyPrompt, poller, cfg.Timeouts(), logger,
		attendance.WithCapturer(capturer))

	comps := &components{}
	var recorder ledger.Recorder = ledger.Nop{}
	if url := cfg.Database().URL; url != "" {
		// The ledger is a convenience; a run never fails because of it.
		st, closeDB, err := a.openLedger(ctx, url, logger)
		if err != nil {
			logger.Warn("Run ledger unavailable, continuing without it", zap.Error(err))
		} else {
			recorder = st
			comps.closeLedger = closeDB
		}
	}

	orch, err := orchestrator.New(orchestrator.Settings{
		AllowInteractive: cfg.Auth().AllowInteractive,
		LaunchOptions:    store.LaunchOptions(base),
	}, validator, machine, engine, launcher, attempts, recorder, logger)
	if err != nil {
		comps.Shutdown()
		return nil, err
	}
	comps.Orchestrator = orch
	return comps, nil
}

func baseLaunchOptions(b config.BrowserConfig) browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:          b.Headless,
		Args:              b.Args,
		UserAgent:         b.UserAgent,
		Locale:            b.Locale,
		NavigationTimeout: b.NavigationTimeout,
		ActionTimeout:     b.ActionTimeout,
	}
}

func writeTable(w io.Writer, entries []ledger.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCOMMAND\tSTATUS\tOUTCOME\tEXIT\tDURATION")
	for _, e := range entries {
		outcome := e.Outcome
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), e.Command, e.Status, outcome, e.ExitCode,
			e.FinishedAt.Sub(e.StartedAt).Round(time.Second))
	}
	return tw.Flush()
}

type jsonEntry struct {
	RunID      string    `json:"run_id"`
	Command    string    `json:"command"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
}

func writeJSON(w io.Writer, entries []ledger.Entry) error {
	out := make([]jsonEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, jsonEntry(e))
	}
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
