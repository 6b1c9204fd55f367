// Package orchestrator runs one attendance pass: make sure a session is
// usable, log in at most once if it is not, then mark present. The
// components are injected through small interfaces so the sequence can be
// tested without a browser.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/attendance"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/auth"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/ledger"
)

// Validator reports whether the stored session opens the channel.
type Validator interface {
	IsSessionUsable(ctx context.Context) bool
}

// Authenticator performs a full login and saves the session.
type Authenticator interface {
	Authenticate(ctx context.Context, attempts *auth.Attempts) error
}

// Attendance marks present in a browser it launches itself.
type Attendance interface {
	Run(ctx context.Context, launcher browser.Launcher, opts browser.LaunchOptions) (attendance.Outcome, error)
}

// ErrInteractiveLoginDisabled is returned when the session is invalid and
// the configuration forbids logging in.
var ErrInteractiveLoginDisabled = fmt.Errorf("%w and interactive login is disabled", auth.ErrSessionInvalid)

// Status is how a run ended, at the granularity of the process exit code.
type Status int

const (
	StatusSucceeded Status = iota
	// StatusError covers configuration problems, launch failures and cancellation.
	StatusError
	StatusNoSession
	StatusAttendanceFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusNoSession:
		return "NO_USABLE_SESSION"
	case StatusAttendanceFailed:
		return "ATTENDANCE_FAILED"
	default:
		return "ERROR"
	}
}

// ExitCode maps the status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSucceeded:
		return 0
	case StatusNoSession:
		return 2
	case StatusAttendanceFailed:
		return 3
	default:
		return 1
	}
}

// Result describes a finished run.
type Result struct {
	RunID     string
	Status    Status
	Outcome   attendance.Outcome
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Settings are the values the orchestrator reads from configuration.
type Settings struct {
	AllowInteractive bool
	// LaunchOptions opens the browser that marks present, with the stored session.
	LaunchOptions browser.LaunchOptions
}

// Orchestrator sequences the components of a run.
type Orchestrator struct {
	settings   Settings
	validator  Validator
	auth       Authenticator
	attendance Attendance
	launcher   browser.Launcher
	attempts   *auth.Attempts
	recorder   ledger.Recorder
	now        func() time.Time
	logger     *zap.Logger
}

// New creates an Orchestrator. attempts is shared with the readiness
// poller's resolver and is reset at the start of every run.
func New(
	s Settings,
	validator Validator,
	authenticator Authenticator,
	att Attendance,
	launcher browser.Launcher,
	attempts *auth.Attempts,
	recorder ledger.Recorder,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if validator == nil || authenticator == nil || att == nil || launcher == nil || attempts == nil || logger == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	return &Orchestrator{
		settings:   s,
		validator:  validator,
		auth:       authenticator,
		attendance: att,
		launcher:   launcher,
		attempts:   attempts,
		recorder:   recorder,
		now:        time.Now,
		logger:     logger.Named("orchestrator"),
	}, nil
}

// RunOnce performs a single pass. There is no retry of the whole pipeline.
func (o *Orchestrator) RunOnce(ctx context.Context) Result {
	return o.run(ctx, "run", func(ctx context.Context, log *zap.Logger) Result {
		if res, ok := o.ensureSession(ctx, log, o.settings.AllowInteractive); !ok {
			return res
		}

		outcome, err := o.attendance.Run(ctx, o.launcher, o.settings.LaunchOptions)
		switch {
		case err != nil:
			return Result{Status: StatusError, Err: fmt.Errorf("attendance browser: %w", err)}
		case ctx.Err() != nil:
			return Result{Status: StatusError, Outcome: outcome, Err: ctx.Err()}
		case outcome.Success():
			return Result{Status: StatusSucceeded, Outcome: outcome}
		default:
			return Result{Status: StatusAttendanceFailed, Outcome: outcome, Err: fmt.Errorf("attendance not recorded: %s", outcome)}
		}
	})
}

// Check validates the stored session without logging in.
func (o *Orchestrator) Check(ctx context.Context) Result {
	return o.run(ctx, "check", func(ctx context.Context, log *zap.Logger) Result {
		if o.validator.IsSessionUsable(ctx) {
			return Result{Status: StatusSucceeded}
		}
		return Result{Status: StatusNoSession, Err: auth.ErrSessionInvalid}
	})
}

// Bootstrap logs in even when the stored session still works, then
// validates the fresh artifact. It is the interactive first-run path.
func (o *Orchestrator) Bootstrap(ctx context.Context) Result {
	return o.run(ctx, "login", func(ctx context.Context, log *zap.Logger) Result {
		return o.login(ctx, log)
	})
}

// ensureSession validates and, when allowed, logs in once and validates
// again. ok is false when the run must stop with res.
func (o *Orchestrator) ensureSession(ctx context.Context, log *zap.Logger, allowLogin bool) (res Result, ok bool) {
	if o.validator.IsSessionUsable(ctx) {
		log.Info("Existing session is usable")
		return Result{}, true
	}
	if err := ctx.Err(); err != nil {
		return Result{Status: StatusError, Err: err}, false
	}
	if !allowLogin {
		log.Error("Session invalid and interactive login disabled; enable auth.allow_interactive for a bootstrap run",
			zap.String("tag", string(auth.TagSessionInvalid)))
		return Result{Status: StatusNoSession, Err: ErrInteractiveLoginDisabled}, false
	}
	res = o.login(ctx, log)
	return res, res.Status == StatusSucceeded
}

func (o *Orchestrator) login(ctx context.Context, log *zap.Logger) Result {
	if err := o.auth.Authenticate(ctx, o.attempts); err != nil {
		if ctx.Err() != nil {
			return Result{Status: StatusError, Err: err}
		}
		log.Error("Login failed", zap.String("tag", string(auth.TagOf(err))), zap.Error(err))
		return Result{Status: StatusNoSession, Err: err}
	}
	if !o.validator.IsSessionUsable(ctx) {
		log.Error("Fresh session failed validation", zap.String("tag", string(auth.TagSessionInvalid)))
		return Result{Status: StatusNoSession, Err: fmt.Errorf("after login: %w", auth.ErrSessionInvalid)}
	}
	return Result{Status: StatusSucceeded}
}

// run stamps, logs and records one command.
func (o *Orchestrator) run(ctx context.Context, command string, body func(context.Context, *zap.Logger) Result) Result {
	runID := uuid.NewString()
	started := o.now()
	log := o.logger.With(zap.String("run_id", runID), zap.String("command", command))
	log.Info("Attendance run started")

	o.attempts.Reset()
	res := body(ctx, log)
	res.RunID = runID
	res.StartedAt = started
	res.Duration = o.now().Sub(started)

	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Int("exit_code", res.Status.ExitCode()),
		zap.Duration("duration", res.Duration),
	}
	if res.Outcome != attendance.Unknown {
		fields = append(fields, zap.Stringer("outcome", res.Outcome))
	}
	if res.Err != nil {
		log.Error("Attendance run finished", append(fields, zap.Error(res.Err))...)
	} else {
		log.Info("Attendance run finished", fields...)
	}

	o.record(ctx, command, res)
	return res
}

func (o *Orchestrator) record(ctx context.Context, command string, res Result) {
	entry := ledger.Entry{
		RunID:      res.RunID,
		Command:    command,
		StartedAt:  res.StartedAt,
		FinishedAt: res.StartedAt.Add(res.Duration),
		Status:     res.Status.String(),
		ExitCode:   res.Status.ExitCode(),
	}
	if res.Outcome != attendance.Unknown {
		entry.Outcome = res.Outcome.String()
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(recordCtx, entry); err != nil {
		o.logger.Warn("Failed to record run in ledger", zap.String("run_id", res.RunID), zap.Error(err))
	}
}
