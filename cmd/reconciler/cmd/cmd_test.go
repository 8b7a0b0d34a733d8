package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"cod-reconciler/internal/reconciler"
	"cod-reconciler/internal/store"
	"cod-reconciler/pkg/errors"
	"cod-reconciler/pkg/logger"

	"github.com/go-sql-driver/mysql"
)

func createTestService(t *testing.T) *reconciler.Service {
	t.Helper()
	svc, err := reconciler.NewService(store.NewMemoryStore(), reconciler.Options{Logger: logger.NewNopLogger()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func TestParseID(t *testing.T) {
	tests := []struct {
		arg          string
		expected     int64
		expectedCode errors.ErrorCode
	}{
		{"42", 42, ""},
		{"0", 0, errors.CodeOutOfRange},
		{"-3", 0, errors.CodeOutOfRange},
		{"abc", 0, errors.CodeInvalidFormat},
		{"", 0, errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			id, err := parseID("match id", tt.arg)
			if tt.expectedCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if id != tt.expected {
					t.Errorf("expected %d, got %d", tt.expected, id)
				}
				return
			}

			re, ok := errors.AsReconcilerError(err)
			if !ok || re.Code != tt.expectedCode {
				t.Errorf("expected code %s, got %v", tt.expectedCode, err)
			}
		})
	}
}

func TestMatchArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{"orders", []string{"orders"}, false},
		{"all", []string{"all"}, false},
		{"bank payments", []string{"bank-payments"}, false},
		{"unknown target", []string{"invoices"}, true},
		{"no target", []string{}, true},
		{"two targets", []string{"orders", "bank"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := matchCmd.Args(matchCmd, tt.args)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateMatchFlags(t *testing.T) {
	defer func() { dayTolerance = -1 }()

	tests := []struct {
		tolerance   int
		expectError bool
	}{
		{-1, false},
		{0, false},
		{5, false},
		{-2, true},
	}

	for _, tt := range tests {
		dayTolerance = tt.tolerance
		err := validateMatchFlags(matchCmd, []string{"bank"})
		if tt.expectError != (err != nil) {
			t.Errorf("day tolerance %d: expected error %v, got %v", tt.tolerance, tt.expectError, err)
		}
	}
}

func TestRunTarget(t *testing.T) {
	svc := createTestService(t)

	tests := []struct {
		target   string
		expected []string
	}{
		{targetOrders, []string{reconciler.PassOrders}},
		{targetReversals, []string{reconciler.PassReversals}},
		{targetBank, []string{reconciler.PassBankPayments, reconciler.PassBankReversals}},
		{targetBankPayments, []string{reconciler.PassBankPayments}},
		{targetBankReversals, []string{reconciler.PassBankReversals}},
		{targetAll, []string{reconciler.PassReversals, reconciler.PassOrders, reconciler.PassBankPayments, reconciler.PassBankReversals}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			run, err := runTarget(context.Background(), svc, tt.target, -1, nil)
			if err != nil {
				t.Fatalf("runTarget failed: %v", err)
			}
			if len(run.Passes) != len(tt.expected) {
				t.Fatalf("expected %d passes, got %d", len(tt.expected), len(run.Passes))
			}
			for i, name := range tt.expected {
				if run.Passes[i].Pass != name {
					t.Errorf("expected pass %d to be %s, got %s", i, name, run.Passes[i].Pass)
				}
			}
			if run.RunID == "" {
				t.Error("expected a run id")
			}
		})
	}

	if _, err := runTarget(context.Background(), svc, "invoices", -1, nil); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error for unknown target, got %v", err)
	}
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"match"}, "match"},
		{[]string{"review", "list"}, "list"},
		{[]string{"review", "confirm"}, "confirm"},
		{[]string{"review", "needs-invoice"}, "needs-invoice"},
		{[]string{"review", "accept"}, "accept"},
		{[]string{"close-invoices"}, "close-invoices"},
		{[]string{"migrate"}, "migrate"},
		{[]string{"customer-keys"}, "customer-keys"},
		{[]string{"version"}, "version"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			found, _, err := rootCmd.Find(tt.args)
			if err != nil {
				t.Fatalf("command not found: %v", err)
			}
			if found.Name() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, found.Name())
			}
		})
	}
}

func TestMatchCommandHelp(t *testing.T) {
	var helpOutput bytes.Buffer
	matchCmd.SetOut(&helpOutput)
	defer matchCmd.SetOut(nil)
	matchCmd.Help()

	helpText := helpOutput.String()
	for _, section := range []string{"Usage:", "Examples:", "--day-tolerance", "--progress", "--output-format"} {
		if !strings.Contains(helpText, section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.0", "abc123", "2024-06-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)

	if got := out.String(); got != "reconciler 1.2.0 (commit abc123, built 2024-06-01)\n" {
		t.Errorf("unexpected version output %q", got)
	}
	if rootCmd.Version != "1.2.0" {
		t.Errorf("expected root version 1.2.0, got %s", rootCmd.Version)
	}
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("RECONCILER_STORE_DSN", "")

	_, _, err := loadSettings(true)
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeMissingConfig {
		t.Fatalf("expected missing_config without a DSN, got %v", err)
	}

	cfg, log, err := loadSettings(false)
	if err != nil {
		t.Fatalf("expected settings without a store to load, got %v", err)
	}
	if cfg.Matching.AutoThreshold != 70 || log == nil {
		t.Errorf("expected default settings and a logger, got %+v", cfg.Matching)
	}
}

func TestSettingsFromEnvironment(t *testing.T) {
	t.Setenv("RECONCILER_BANK_CLOSE_TOLERANCE", "5")
	cfg, _, err := loadSettings(false)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}

	bank, err := cfg.BankConfig()
	if err != nil {
		t.Fatalf("BankConfig failed: %v", err)
	}
	if bank.CloseTolerance.String() != "5" {
		t.Errorf("expected close tolerance 5, got %s", bank.CloseTolerance)
	}

	if _, err := newReporter(cfg); err != nil {
		t.Errorf("newReporter failed: %v", err)
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		exitCode int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"validation", errors.ValidationError(errors.CodeOutOfRange, "match id", "0", nil), 3, "Validation error help"},
		{"configuration", errors.ConfigurationError(errors.CodeMissingConfig, "store.dsn", "", nil), 4, "RECONCILER_STORE_DSN"},
		{"reconciliation", errors.ReconciliationError(errors.CodeRunCancelled, "match_orders", context.Canceled), 5, "idempotent"},
		{"storage", errors.StorageError(errors.CodeStorageRead, "match_orders", stderrors.New("connection refused")), 6, "reconciler migrate"},
		{"mysql", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, 6, "Access denied"},
		{"usage", stderrors.New(`unknown command "foo" for "reconciler"`), 2, "--help"},
		{"generic", stderrors.New("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := &CLIErrorHandler{logger: logger.NewNopLogger(), out: &out}

			if code := h.HandleError(tt.err); code != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, code)
			}
			if !strings.Contains(out.String(), tt.contains) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.contains, out.String())
			}
		})
	}
}

func TestCLIErrorHandlerContextOrder(t *testing.T) {
	var out bytes.Buffer
	h := &CLIErrorHandler{logger: logger.NewNopLogger(), out: &out}

	err := errors.ReconciliationError(errors.CodeRecordNotFound, "candidate lookup", nil).
		WithContext("order_id", 3).
		WithContext("invoice_id", 12)
	h.HandleError(err)

	text := out.String()
	if strings.Index(text, "invoice_id") > strings.Index(text, "operation") ||
		strings.Index(text, "operation") > strings.Index(text, "order_id") {
		t.Errorf("expected context keys in sorted order, got:\n%s", text)
	}
}
