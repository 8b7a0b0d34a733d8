package cmd

import (
	"context"
	"io"
	"os"

	"cod-reconciler/cmd/reconciler/config"
	"cod-reconciler/internal/reconciler"
	"cod-reconciler/internal/reporter"
	"cod-reconciler/internal/store/gormstore"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/spf13/viper"
)

// session holds everything a command needs once the configuration is loaded
type session struct {
	cfg     *config.AppConfig
	log     logger.Logger
	store   *gormstore.Store
	service *reconciler.Service
	report  *reporter.ReportGenerator
}

// loadSettings loads and validates the configuration and installs the
// configured logger as the global one
func loadSettings(requireStore bool) (*config.AppConfig, logger.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(requireStore); err != nil {
		return nil, nil, err
	}

	log, err := logger.NewLogger(cfg.LoggerConfig(verbose))
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Level, err)
	}
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

// newReporter builds the report generator, honouring --output-format
func newReporter(cfg *config.AppConfig) (*reporter.ReportGenerator, error) {
	rg, err := reporter.NewReportGenerator(cfg.ReportConfig(outputFormat))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output.format", outputFormat, err)
	}
	return rg, nil
}

// newService wires the matcher settings from cfg into a Service over st
func newService(cfg *config.AppConfig, st *gormstore.Store, log logger.Logger) (*reconciler.Service, error) {
	bank, err := cfg.BankConfig()
	if err != nil {
		return nil, err
	}
	reversal, err := cfg.ReversalConfig()
	if err != nil {
		return nil, err
	}
	return reconciler.NewService(st, reconciler.Options{
		Matching: cfg.MatchingConfig(),
		Bank:     bank,
		Reversal: reversal,
		Logger:   log,
	})
}

// openSession loads the configuration, connects to the database and builds
// the service. The caller must Close it.
func openSession(ctx context.Context) (*session, error) {
	cfg, log, err := loadSettings(true)
	if err != nil {
		return nil, err
	}
	rg, err := newReporter(cfg)
	if err != nil {
		return nil, err
	}

	st, err := gormstore.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	svc, err := newService(cfg, st, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &session{cfg: cfg, log: log, store: st, service: svc, report: rg}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("Closing the database failed")
	}
}

// output returns where reports go: --output-file when set, stdout otherwise
func output() (io.WriteCloser, error) {
	if outputFile == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-file", outputFile, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
