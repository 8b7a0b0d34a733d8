// Package config loads the reconciler settings from flags, a config file,
// a .env file and RECONCILER_* environment variables.
package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"cod-reconciler/internal/matcher"
	"cod-reconciler/internal/reporter"
	"cod-reconciler/internal/store/gormstore"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// RECONCILER_STORE_DSN for store.dsn
const EnvPrefix = "RECONCILER"

// AppConfig is the full CLI configuration
type AppConfig struct {
	Store    gormstore.Config `mapstructure:"store"`
	Log      LogSettings      `mapstructure:"log"`
	Matching MatchingSettings `mapstructure:"matching"`
	Bank     BankSettings     `mapstructure:"bank"`
	Reversal ReversalSettings `mapstructure:"reversal"`
	Output   OutputSettings   `mapstructure:"output"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type MatchingSettings struct {
	DateWindowDays  int `mapstructure:"date_window_days" validate:"gte=0"`
	AutoThreshold   int `mapstructure:"auto_threshold" validate:"gte=0,lte=100"`
	ReviewThreshold int `mapstructure:"review_threshold" validate:"gte=0,ltefield=AutoThreshold"`
	MaxCandidates   int `mapstructure:"max_candidates" validate:"gte=1"`
}

// BankSettings keeps the tolerances as strings so they reach decimal
// without a float conversion
type BankSettings struct {
	DayTolerance   int    `mapstructure:"day_tolerance" validate:"gte=0"`
	ExactTolerance string `mapstructure:"exact_tolerance" validate:"required,numeric"`
	CloseTolerance string `mapstructure:"close_tolerance" validate:"required,numeric"`
	ProviderPayee  string `mapstructure:"provider_payee"`
}

type ReversalSettings struct {
	SnapTolerance string `mapstructure:"snap_tolerance" validate:"required,numeric"`
}

type OutputSettings struct {
	Format string `mapstructure:"format" validate:"oneof=console json csv"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.auto_migrate", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("matching.date_window_days", 10)
	v.SetDefault("matching.auto_threshold", 70)
	v.SetDefault("matching.review_threshold", 50)
	v.SetDefault("matching.max_candidates", 3)

	v.SetDefault("bank.day_tolerance", 2)
	v.SetDefault("bank.exact_tolerance", "0.01")
	v.SetDefault("bank.close_tolerance", "2.00")
	v.SetDefault("bank.provider_payee", "")

	v.SetDefault("reversal.snap_tolerance", "2")

	v.SetDefault("output.format", "console")
}

// Load reads .env (when present), binds the environment and decodes v into
// an AppConfig. It does not validate.
func Load(v *viper.Viper) (*AppConfig, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every setting. requireStore is false for commands that
// never open the database.
func (c *AppConfig) Validate(requireStore bool) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err)
	}
	for _, fe := range fieldErrs {
		setting := settingName(fe.Namespace())
		if setting == "store.dsn" && !requireStore {
			continue
		}
		if fe.Tag() == "required" {
			return errors.ConfigurationError(errors.CodeMissingConfig, setting, fe.Value(), fe)
		}
		return errors.ConfigurationError(errors.CodeInvalidConfig, setting, fe.Value(), fe).
			WithSuggestion(fmt.Sprintf("'%s' must satisfy %s %s", setting, fe.Tag(), fe.Param()))
	}
	return nil
}

// settingName turns "AppConfig.Matching.ReviewThreshold" into
// "matching.review_threshold"
func settingName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	if s == "DSN" {
		return "dsn"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MatchingConfig builds the order matcher settings
func (c *AppConfig) MatchingConfig() *matcher.MatchingConfig {
	mc := matcher.DefaultMatchingConfig()
	mc.DateWindowDays = c.Matching.DateWindowDays
	mc.AutoThreshold = c.Matching.AutoThreshold
	mc.ReviewThreshold = c.Matching.ReviewThreshold
	mc.MaxCandidates = c.Matching.MaxCandidates
	return mc
}

// BankConfig builds the bank matcher settings
func (c *AppConfig) BankConfig() (*matcher.BankConfig, error) {
	exact, err := decimal.NewFromString(c.Bank.ExactTolerance)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "bank.exact_tolerance", c.Bank.ExactTolerance, err)
	}
	closeTol, err := decimal.NewFromString(c.Bank.CloseTolerance)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "bank.close_tolerance", c.Bank.CloseTolerance, err)
	}

	bc := matcher.DefaultBankConfig()
	bc.DayTolerance = c.Bank.DayTolerance
	bc.ExactTolerance = exact
	bc.CloseTolerance = closeTol
	bc.ProviderPayee = strings.TrimSpace(c.Bank.ProviderPayee)
	return bc, nil
}

// ReversalConfig builds the reversal linker settings
func (c *AppConfig) ReversalConfig() (*matcher.ReversalConfig, error) {
	snap, err := decimal.NewFromString(c.Reversal.SnapTolerance)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reversal.snap_tolerance", c.Reversal.SnapTolerance, err)
	}
	return &matcher.ReversalConfig{SnapTolerance: snap}, nil
}

// LoggerConfig builds the logger settings. verbose forces debug level.
func (c *AppConfig) LoggerConfig(verbose bool) *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = logger.Level(c.Log.Level)
	lc.Format = logger.Format(c.Log.Format)
	if verbose {
		lc.Level = logger.DebugLevel
	}
	return lc
}

// ReportConfig builds the output settings. A non-empty format overrides the
// configured one.
func (c *AppConfig) ReportConfig(format string) *reporter.ReportConfig {
	rc := reporter.DefaultReportConfig()
	rc.Format = reporter.OutputFormat(c.Output.Format)
	if format != "" {
		rc.Format = reporter.OutputFormat(format)
	}
	return rc
}
