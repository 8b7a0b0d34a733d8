package matcher

// ProgressFunc receives monotonic processed/total counters from a pass.
// It is advisory: a panicking sink is ignored and never fails the pass.
type ProgressFunc func(processed, total int)

// progressEvery is how many steps pass between two reports
const progressEvery = 10

type progress struct {
	fn    ProgressFunc
	total int
	done  int
	last  int
}

func newProgress(fn ProgressFunc, total int) *progress {
	p := &progress{fn: fn, total: total}
	p.emit()
	return p
}

func (p *progress) step() {
	p.done++
	if p.done > p.total {
		p.total = p.done
	}
	if p.done-p.last >= progressEvery || p.done == p.total {
		p.emit()
	}
}

func (p *progress) finish() {
	if p.done < p.total {
		p.done = p.total
	}
	if p.last != p.done {
		p.emit()
	}
}

func (p *progress) emit() {
	p.last = p.done
	if p.fn == nil {
		return
	}
	defer func() { _ = recover() }()
	p.fn(p.done, p.total)
}

// Offset shifts a sink so that several passes can report into one
// processed/total sequence. base is the work already done before this pass
// and grand is the overall total.
func Offset(fn ProgressFunc, base, grand int) ProgressFunc {
	if fn == nil {
		return nil
	}
	return func(processed, _ int) {
		fn(base+processed, grand)
	}
}
