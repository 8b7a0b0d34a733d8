package matcher

import "testing"

func TestProgress(t *testing.T) {
	var calls [][2]int
	p := newProgress(func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	}, 25)

	for i := 0; i < 25; i++ {
		p.step()
	}
	p.finish()

	expected := [][2]int{{0, 25}, {10, 25}, {20, 25}, {25, 25}}
	if len(calls) != len(expected) {
		t.Fatalf("Expected %d reports, got %d: %v", len(expected), len(calls), calls)
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("Expected report %d to be %v, got %v", i, expected[i], calls[i])
		}
	}
}

func TestProgress_FinishCompletes(t *testing.T) {
	var last [2]int
	p := newProgress(func(processed, total int) { last = [2]int{processed, total} }, 7)
	p.step()
	p.finish()

	if last != [2]int{7, 7} {
		t.Errorf("Expected final report 7/7, got %v", last)
	}
}

func TestProgress_PanickingSink(t *testing.T) {
	p := newProgress(func(int, int) { panic("observer gone") }, 3)
	p.step()
	p.step()
	p.step()
	p.finish()

	if p.done != 3 {
		t.Errorf("Expected 3 steps recorded, got %d", p.done)
	}
}

func TestProgress_NilSink(t *testing.T) {
	p := newProgress(nil, 2)
	p.step()
	p.finish()
}

func TestOffset(t *testing.T) {
	if Offset(nil, 1, 2) != nil {
		t.Error("Expected nil sink to stay nil")
	}

	var got [2]int
	fn := Offset(func(processed, total int) { got = [2]int{processed, total} }, 10, 30)
	fn(5, 20)
	if got != [2]int{15, 30} {
		t.Errorf("Expected 15/30, got %v", got)
	}
}
