// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on the section they need rather than the whole tree.
type Interface interface {
	Logger() LoggerConfig
	Slack() SlackConfig
	Credentials() CredentialsConfig
	Session() SessionConfig
	Browser() BrowserConfig
	Auth() AuthConfig
	Timeouts() TimeoutsConfig
	Debug() DebugConfig
	Database() DatabaseConfig

	SetBrowserHeadless(bool)
	SetAllowInteractiveLogin(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	SlackCfg       SlackConfig       `mapstructure:"slack" yaml:"slack"`
	CredentialsCfg CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	SessionCfg     SessionConfig     `mapstructure:"session" yaml:"session"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	AuthCfg        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	TimeoutsCfg    TimeoutsConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	DebugCfg       DebugConfig       `mapstructure:"debug" yaml:"debug"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
}

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Slack() SlackConfig             { return c.SlackCfg }
func (c *Config) Credentials() CredentialsConfig { return c.CredentialsCfg }
func (c *Config) Session() SessionConfig         { return c.SessionCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Auth() AuthConfig               { return c.AuthCfg }
func (c *Config) Timeouts() TimeoutsConfig       { return c.TimeoutsCfg }
func (c *Config) Debug() DebugConfig             { return c.DebugCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetAllowInteractiveLogin(b bool) { c.AuthCfg.AllowInteractive = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SlackConfig identifies the single workspace and channel a run targets.
type SlackConfig struct {
	TeamID    string `mapstructure:"team_id" yaml:"team_id"`
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
	Workspace string `mapstructure:"workspace" yaml:"workspace"`
	Domain    string `mapstructure:"domain" yaml:"domain"`
	AppHost   string `mapstructure:"app_host" yaml:"app_host"`
	// SurveyPrompt is a regular expression matched against message text to
	// find the attendance survey card.
	SurveyPrompt string `mapstructure:"survey_prompt" yaml:"survey_prompt"`
}

// CredentialsConfig carries the password login identity. Both values are
// normally supplied through the environment.
type CredentialsConfig struct {
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"-"`
}

// SessionConfig locates the session artifact.
type SessionConfig struct {
	// File is the storage-state JSON used in fresh-context mode.
	File string `mapstructure:"file" yaml:"file"`
	// ProfileDir switches the browser to persistent-profile mode when set.
	ProfileDir string `mapstructure:"profile_dir" yaml:"profile_dir"`
	// MaxAge rejects artifacts older than this without opening a browser. Zero disables the check.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// BrowserConfig controls the automation driver.
type BrowserConfig struct {
	Engine            string        `mapstructure:"engine" yaml:"engine"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Locale            string        `mapstructure:"locale" yaml:"locale"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	InstallDrivers    bool          `mapstructure:"install_drivers" yaml:"install_drivers"`
}

// AuthConfig bounds the login state machine.
type AuthConfig struct {
	AllowInteractive     bool          `mapstructure:"allow_interactive" yaml:"allow_interactive"`
	MaxWorkspaceAttempts int           `mapstructure:"max_workspace_attempts" yaml:"max_workspace_attempts"`
	StabilityWindow      time.Duration `mapstructure:"stability_window" yaml:"stability_window"`
	Timeout              time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FormTimeout          time.Duration `mapstructure:"form_timeout" yaml:"form_timeout"`
}

// TimeoutsConfig holds the budgets for every polling loop in a run.
type TimeoutsConfig struct {
	Validation    time.Duration `mapstructure:"validation" yaml:"validation"`
	Content       time.Duration `mapstructure:"content" yaml:"content"`
	PresentSearch time.Duration `mapstructure:"present_search" yaml:"present_search"`
	Confirmation  time.Duration `mapstructure:"confirmation" yaml:"confirmation"`
	Grace         time.Duration `mapstructure:"grace" yaml:"grace"`
	Settle        time.Duration `mapstructure:"settle" yaml:"settle"`
	Tick          time.Duration `mapstructure:"tick" yaml:"tick"`
	ConfirmTick   time.Duration `mapstructure:"confirm_tick" yaml:"confirm_tick"`
}

// DebugConfig names the files written when a run does not succeed.
type DebugConfig struct {
	Screenshot      string `mapstructure:"screenshot" yaml:"screenshot"`
	Markup          string `mapstructure:"markup" yaml:"markup"`
	LoginScreenshot string `mapstructure:"login_screenshot" yaml:"login_screenshot"`
}

// DatabaseConfig enables the optional run ledger.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Engine names accepted by browser.engine.
const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// envAliases maps configuration keys to the bare variable names the bot has
// always read, in addition to the ATTENDANCE_ prefixed form.
var envAliases = map[string]string{
	"credentials.email":      "SLACK_EMAIL",
	"credentials.password":   "SLACK_PASSWORD",
	"session.file":           "SESSION_FILE",
	"session.profile_dir":    "SESSION_PROFILE_DIR",
	"browser.headless":       "HEADLESS",
	"auth.allow_interactive": "ALLOW_INTERACTIVE_LOGIN",
	"debug.login_screenshot": "LOGIN_DEBUG_SCREENSHOT",
	"slack.team_id":          "SLACK_TEAM_ID",
	"slack.channel_id":       "SLACK_CHANNEL_ID",
	"slack.workspace":        "SLACK_WORKSPACE",
	"database.url":           "DATABASE_URL",
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decoderOptions()); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "attendance-bot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Slack --
	v.SetDefault("slack.team_id", "TNS9HAY6M")
	v.SetDefault("slack.channel_id", "C09BXD87H54")
	v.SetDefault("slack.workspace", "wbscodingschool")
	v.SetDefault("slack.domain", "slack.com")
	v.SetDefault("slack.app_host", "app.slack.com")
	v.SetDefault("slack.survey_prompt", `(?i)attendance|are you present|check.?in`)

	// -- Session --
	v.SetDefault("session.file", "slack_auth.json")
	v.SetDefault("session.profile_dir", "")
	v.SetDefault("session.max_age", "0s")

	// -- Browser --
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "5s")
	v.SetDefault("browser.install_drivers", false)

	// -- Auth --
	v.SetDefault("auth.allow_interactive", false)
	v.SetDefault("auth.max_workspace_attempts", 3)
	v.SetDefault("auth.stability_window", "5s")
	v.SetDefault("auth.timeout", "90s")
	v.SetDefault("auth.form_timeout", "20s")

	// -- Timeouts --
	v.SetDefault("timeouts.validation", "25s")
	v.SetDefault("timeouts.content", "45s")
	v.SetDefault("timeouts.present_search", "30s")
	v.SetDefault("timeouts.confirmation", "15s")
	v.SetDefault("timeouts.grace", "8s")
	v.SetDefault("timeouts.settle", "3s")
	v.SetDefault("timeouts.tick", "1s")
	v.SetDefault("timeouts.confirm_tick", "500ms")

	// -- Debug --
	v.SetDefault("debug.screenshot", "attendance_failed.png")
	v.SetDefault("debug.markup", "attendance_failed.html")
	v.SetDefault("debug.login_screenshot", "login_failed.png")

	// -- Database --
	v.SetDefault("database.url", "")
}

// BindEnv wires the prefixed and bare environment variable names for every key.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := "ATTENDANCE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decoderOptions()); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func decoderOptions() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		looseBoolHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// ParseBool accepts the spellings people actually put in .env files.
// Anything unrecognised is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func looseBoolHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		return ParseBool(data.(string)), nil
	}
}

func (c *Config) expandPaths() error {
	paths := []*string{
		&c.SessionCfg.File,
		&c.SessionCfg.ProfileDir,
		&c.DebugCfg.Screenshot,
		&c.DebugCfg.Markup,
		&c.DebugCfg.LoginScreenshot,
		&c.LoggerCfg.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are not required here; the login flow reports them as missing
// only when a login is actually attempted.
func (c *Config) Validate() error {
	var errs []error
	if c.SlackCfg.TeamID == "" {
		errs = append(errs, errors.New("slack.team_id is required"))
	}
	if c.SlackCfg.ChannelID == "" {
		errs = append(errs, errors.New("slack.channel_id is required"))
	}
	if c.SlackCfg.Workspace == "" {
		errs = append(errs, errors.New("slack.workspace is required"))
	}
	if c.SessionCfg.File == "" && c.SessionCfg.ProfileDir == "" {
		errs = append(errs, errors.New("one of session.file or session.profile_dir is required"))
	}
	switch c.BrowserCfg.Engine {
	case EngineChromedp, EnginePlaywright:
	default:
		errs = append(errs, fmt.Errorf("browser.engine must be %q or %q, got %q", EngineChromedp, EnginePlaywright, c.BrowserCfg.Engine))
	}
	if c.AuthCfg.MaxWorkspaceAttempts <= 0 {
		errs = append(errs, errors.New("auth.max_workspace_attempts must be a positive integer"))
	}
	if err := c.TimeoutsCfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks that every polling budget is usable.
func (t TimeoutsConfig) Validate() error {
	durations := map[string]time.Duration{
		"timeouts.validation":     t.Validation,
		"timeouts.content":        t.Content,
		"timeouts.present_search": t.PresentSearch,
		"timeouts.confirmation":   t.Confirmation,
		"timeouts.tick":           t.Tick,
		"timeouts.confirm_tick":   t.ConfirmTick,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if t.Grace < 0 || t.Settle < 0 {
		return errors.New("timeouts.grace and timeouts.settle cannot be negative")
	}
	return nil
}
