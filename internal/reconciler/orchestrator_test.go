package reconciler

import (
	"context"
	stderrors "errors"
	"testing"
)

func TestService_RunAll(t *testing.T) {
	ctx := context.Background()
	st := createTestStore()
	svc := createTestService(t, st)

	run, err := svc.RunAll(ctx, -1, nil)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if run.RunID != "run-1" {
		t.Errorf("Expected run id run-1, got %s", run.RunID)
	}

	order := []string{PassReversals, PassOrders, PassBankPayments, PassBankReversals}
	if len(run.Passes) != len(order) {
		t.Fatalf("Expected %d passes, got %d", len(order), len(run.Passes))
	}
	for i, name := range order {
		if run.Passes[i].Pass != name {
			t.Errorf("Expected pass %d to be %s, got %s", i, name, run.Passes[i].Pass)
		}
		if run.Passes[i].RunID != run.RunID {
			t.Errorf("Expected pass %s to share the run id, got %s", name, run.Passes[i].RunID)
		}
	}

	tests := []struct {
		pass    string
		written int
	}{
		{PassReversals, 1},
		{PassOrders, 2},
		{PassBankPayments, 1},
		{PassBankReversals, 1},
	}
	for _, tt := range tests {
		t.Run(tt.pass, func(t *testing.T) {
			p := run.Pass(tt.pass)
			if p == nil {
				t.Fatal("Expected a summary")
			}
			if p.Written != tt.written {
				t.Errorf("Expected %d written, got %d", tt.written, p.Written)
			}
		})
	}

	if run.Pass("unknown") != nil {
		t.Error("Expected nil for an unknown pass")
	}
}

func TestService_RunAllProgress(t *testing.T) {
	st := createTestStore()
	svc := createTestService(t, st)

	type report struct{ processed, total int }
	var reports []report
	_, err := svc.RunAll(context.Background(), -1, func(processed, total int) {
		reports = append(reports, report{processed, total})
	})
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(reports) == 0 {
		t.Fatal("Expected progress reports")
	}

	// 1 reversal, 3 walks over 5 orders, 3 transactions seen by both bank passes
	const grand = 1 + 15 + 3 + 3
	last := -1
	for i, r := range reports {
		if r.total != grand {
			t.Errorf("Report %d: expected total %d, got %d", i, grand, r.total)
		}
		if r.processed < last {
			t.Errorf("Report %d: processed went back from %d to %d", i, last, r.processed)
		}
		if r.processed > r.total {
			t.Errorf("Report %d: processed %d exceeds total %d", i, r.processed, r.total)
		}
		last = r.processed
	}
	if final := reports[len(reports)-1]; final.processed != grand {
		t.Errorf("Expected final report %d/%d, got %d/%d", grand, grand, final.processed, final.total)
	}
}

func TestService_RunAllPanickingProgress(t *testing.T) {
	svc := createTestService(t, createTestStore())

	_, err := svc.RunAll(context.Background(), -1, func(processed, total int) {
		panic("sink failure")
	})
	if err != nil {
		t.Errorf("Expected a panicking sink to be ignored, got %v", err)
	}
}

func TestService_RunAllStopsOnError(t *testing.T) {
	mem := createTestStore()
	svc := createTestService(t, &failingStore{Store: mem, insertErr: context.DeadlineExceeded})

	run, err := svc.RunAll(context.Background(), -1, nil)
	if err == nil {
		t.Fatal("Expected RunAll to fail")
	}
	if len(run.Passes) != 1 || run.Passes[0].Pass != PassReversals {
		t.Errorf("Expected only the reversal pass to complete, got %d passes", len(run.Passes))
	}

	links, _ := mem.ReversalLinks(context.Background())
	if len(links) != 1 {
		t.Errorf("Expected the reversal pass to stay committed, got %d links", len(links))
	}
}

func TestService_RunAllOmitsFailedBankPass(t *testing.T) {
	svc := createTestService(t, &failingStore{Store: createTestStore(), bankInsertErr: stderrors.New("disk full")})

	run, err := svc.RunAll(context.Background(), -1, nil)
	if err == nil {
		t.Fatal("Expected RunAll to fail")
	}
	if len(run.Passes) != 2 {
		t.Fatalf("Expected 2 committed passes, got %d", len(run.Passes))
	}
	for _, p := range run.Passes {
		if p.Pass == PassBankPayments {
			t.Errorf("Expected the failed %s pass to be left out", PassBankPayments)
		}
	}
}
