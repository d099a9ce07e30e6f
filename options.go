package mordor

// schedulerOptions holds configuration resolved from Option values, in the
// shape of the reference corpus's LoopOption/loopOptions pattern.
type schedulerOptions struct {
	threads   int
	useCaller bool
	logger    *Logger
	stackSize int
	name      string
}

// Option configures a Scheduler/WorkerPool at construction.
type Option interface {
	apply(*schedulerOptions)
}

type optionFunc func(*schedulerOptions)

func (f optionFunc) apply(o *schedulerOptions) { f(o) }

// WithThreads sets the number of worker threads (spec §4.2's `threads`).
// Must be >= 1 if the caller does not also pass WithUseCaller(true); if
// useCaller is set, 0 background workers plus the caller thread is valid.
func WithThreads(n int) Option {
	return optionFunc(func(o *schedulerOptions) { o.threads = n })
}

// WithUseCaller sets whether the constructing goroutine becomes a worker
// when it calls Dispatch (spec §4.2's `useCaller`). Stop does not drain
// the queue on the calling goroutine; only Dispatch runs work there.
func WithUseCaller(v bool) Option {
	return optionFunc(func(o *schedulerOptions) { o.useCaller = v })
}

// WithSchedulerLogger attaches a Logger for dispatch-loop diagnostics.
func WithSchedulerLogger(l *Logger) Option {
	return optionFunc(func(o *schedulerOptions) { o.logger = l })
}

// WithSchedulerStackSize sets the stack size passed to fibers the
// scheduler materializes from scheduled closures.
func WithSchedulerStackSize(bytes int) Option {
	return optionFunc(func(o *schedulerOptions) { o.stackSize = bytes })
}

// WithSchedulerName sets a cosmetic name used in log fields and in the
// names of the workers' root fibers.
func WithSchedulerName(name string) Option {
	return optionFunc(func(o *schedulerOptions) { o.name = name })
}

func resolveSchedulerOptions(opts []Option) *schedulerOptions {
	cfg := &schedulerOptions{
		threads:   1,
		stackSize: DefaultStackSize,
		name:      "mordor",
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.apply(cfg)
	}
	return cfg
}
