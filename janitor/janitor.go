package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Task is one scheduled maintenance routine. Run returns the number of
// records it affected.
type Task struct {
	// Name identifies the task in logs.
	Name string

	// Schedule is a cron expression (e.g., "0 3 * * *" or "@every 1h").
	Schedule string

	// Run performs the maintenance work.
	Run func(ctx context.Context) (int64, error)
}

// taskState pairs a task with its parsed schedule and next due time.
type taskState struct {
	task    Task
	sched   cronlib.Schedule
	nextRun time.Time
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithTickInterval sets how often the janitor checks for due tasks.
func WithTickInterval(d time.Duration) Option {
	return func(j *Janitor) { j.tickInterval = d }
}

// Janitor runs maintenance tasks on a tick loop.
type Janitor struct {
	logger       *slog.Logger
	tickInterval time.Duration

	mu    sync.Mutex
	tasks []*taskState

	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// New creates a Janitor. Register tasks before calling Start.
func New(logger *slog.Logger, opts ...Option) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		logger:       logger,
		tickInterval: time.Minute,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Register validates the task's schedule and adds it to the tick loop.
// The first run happens at the schedule's next due time, not immediately.
func (j *Janitor) Register(t Task) error {
	sched, err := ParseSchedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("fitsync/janitor: parse schedule %q for task %q: %w", t.Schedule, t.Name, err)
	}

	j.mu.Lock()
	j.tasks = append(j.tasks, &taskState{
		task:    t,
		sched:   sched,
		nextRun: sched.Next(time.Now().UTC()),
	})
	j.mu.Unlock()
	return nil
}

// TaskNames returns the names of all registered tasks.
func (j *Janitor) TaskNames() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, len(j.tasks))
	for i, ts := range j.tasks {
		names[i] = ts.task.Name
	}
	return names
}

// Start launches the tick loop. Calling Start on a running janitor is a
// no-op.
func (j *Janitor) Start(_ context.Context) error {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	if j.running {
		return nil
	}
	j.running = true

	j.wg.Add(1)
	go j.tickLoop()
	j.logger.Info("janitor started",
		slog.Duration("tick_interval", j.tickInterval),
		slog.Int("tasks", len(j.TaskNames())),
	)
	return nil
}

// Stop signals the janitor to stop and waits for the tick loop to finish.
func (j *Janitor) Stop(_ context.Context) error {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	if !j.running {
		return nil
	}
	j.running = false

	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("janitor stopped")
	return nil
}

// tickLoop fires on each tick interval and runs due tasks.
func (j *Janitor) tickLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Collect due tasks and reschedule under the lock; run outside it so a
	// slow purge never blocks Register.
	j.mu.Lock()
	var due []Task
	for _, ts := range j.tasks {
		if ts.nextRun.After(now) {
			continue
		}
		due = append(due, ts.task)
		ts.nextRun = ts.sched.Next(now)
	}
	j.mu.Unlock()

	for _, t := range due {
		j.runTask(ctx, t)
	}
}

func (j *Janitor) runTask(ctx context.Context, t Task) {
	start := time.Now()
	affected, err := t.Run(ctx)
	if err != nil {
		j.logger.Error("janitor task failed",
			slog.String("task", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	j.logger.Info("janitor task ran",
		slog.String("task", t.Name),
		slog.Int64("affected", affected),
		slog.Duration("elapsed", time.Since(start)),
	)
}
