package logger

// Progress reports iteration counts the way a long-running chain or path
// does: on the first iteration, every refresh iterations, and on the last.
// A zero refresh disables reporting.
type Progress struct {
	log     Logger
	refresh int
	warmup  int
	total   int
}

// NewProgress returns a reporter for total iterations, the first warmup of
// which are warmup.
func NewProgress(log Logger, refresh, warmup, total int) Progress {
	return Progress{log: log, refresh: refresh, warmup: warmup, total: total}
}

// Report logs iteration iter (zero-based) if it is due.
func (p Progress) Report(iter int) {
	if p.refresh <= 0 || p.total <= 0 {
		return
	}
	n := iter + 1
	if n != 1 && n%p.refresh != 0 && n != p.total {
		return
	}
	phase := "sampling"
	if iter < p.warmup {
		phase = "warmup"
	}
	p.log.Info("iteration", "n", n, "of", p.total, "percent", 100*n/p.total, "phase", phase)
}
