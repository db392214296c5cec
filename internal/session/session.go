// Package session orchestrates one compile run: it loads the skeleton
// catalog, preset table and database table, fans compile jobs out over a
// worker pool and finally rebuilds archives and indexes.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/papapumpkin/animc/internal/compiler"
	"github.com/papapumpkin/animc/internal/config"
	"github.com/papapumpkin/animc/internal/dbatable"
	"github.com/papapumpkin/animc/internal/history"
	"github.com/papapumpkin/animc/internal/rebuild"
	"github.com/papapumpkin/animc/internal/telemetry"
)

var (
	// ErrInvalidTransition is returned when a state change skips or reverses
	// the session lifecycle.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrCaseCollision marks sources whose paths differ only in case and
	// would therefore share one output.
	ErrCaseCollision = errors.New("sources differ only in case")
)

// State is a session lifecycle phase.
type State int

const (
	StateInit        State = iota // Roots, platform and presets
	StateDiscovering                // Inputs, skeletons and database table
	StateCompiling                  // Worker pool
	StateRebuilding                 // Archives and indexes
	StateDone                       // Summary available
)

// String returns the state name used in logs and telemetry.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDiscovering:
		return "discovering"
	case StateCompiling:
		return "compiling"
	case StateRebuilding:
		return "rebuilding"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition allows each state to advance to the next one, and any state
// to finish early.
func canTransition(from, to State) bool {
	if from == StateDone {
		return false
	}
	return to == from+1 || to == StateDone
}

// Recorder persists build outcomes. *history.Store implements it.
type Recorder interface {
	BeginBuild(ctx context.Context, started time.Time, platform, sourceRoot string) (int64, error)
	RecordJob(ctx context.Context, j history.Job) error
	FinishBuild(ctx context.Context, b history.Build) error
}

// Failure is one animation that could not be compiled.
type Failure struct {
	Source    string
	Animation string
	Err       error
}

// Report summarizes a finished run.
type Report struct {
	Skipped       int
	Recompiled    int
	Failed        []Failure
	Results       []*compiler.Result // successful jobs, in input order
	Rebuild       *rebuild.Report    // nil when the rebuild did not run
	RebuildErr    error              // fatal to the rebuild only
	TableWarnings []dbatable.Warning
	LocalUpdate   bool
	Elapsed       time.Duration
}

// Unused returns the unused archives found by the rebuild.
func (r *Report) Unused() []string {
	if r.Rebuild == nil {
		return nil
	}
	return r.Rebuild.Unused
}

// Session runs one compile batch. Every collaborator hangs off the session;
// nothing is shared between runs.
type Session struct {
	cfg      config.Config
	log      io.Writer
	emitter  *telemetry.Emitter
	recorder Recorder
	backend  compiler.Backend
	id       string

	mu    sync.Mutex
	state State
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the writer for progress lines. The default discards them.
func WithLogger(w io.Writer) Option {
	return func(s *Session) { s.log = w }
}

// WithTelemetry installs a telemetry emitter. A nil emitter is a no-op.
func WithTelemetry(e *telemetry.Emitter) Option {
	return func(s *Session) { s.emitter = e }
}

// WithRecorder installs a build history recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithBackend replaces the compression backend.
func WithBackend(b compiler.Backend) Option {
	return func(s *Session) { s.backend = b }
}

// New creates a session for cfg.
func New(cfg config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:   cfg,
		log:   io.Discard,
		id:    strconv.FormatInt(time.Now().UnixNano(), 36),
		state: StateInit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("session: %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	s.state = to
	s.mu.Unlock()
	s.emit(telemetry.KindStateChange, "", map[string]string{"from": from.String(), "to": to.String()})
	return nil
}

func (s *Session) emit(kind, animation string, data any) {
	// Telemetry failures never fail a build.
	_ = s.emitter.Emit(telemetry.Event{
		Timestamp: time.Now(),
		Kind:      kind,
		SessionID: s.id,
		Animation: animation,
		Data:      data,
	})
}

// Run compiles inputs (source files or directories; the whole source root
// when empty). Per-animation failures are recorded in the report; the error
// is reserved for failures that stop the whole batch.
func (s *Session) Run(ctx context.Context, inputs []string) (*Report, error) {
	if st := s.State(); st != StateInit {
		return nil, fmt.Errorf("session: run in state %s: %w", st, ErrInvalidTransition)
	}
	start := time.Now()
	rep := &Report{LocalUpdate: s.cfg.SkipDBA}
	s.emit(telemetry.KindSessionStart, "", map[string]any{"platform": s.cfg.Platform, "inputs": len(inputs)})

	env, err := s.init()
	if err != nil {
		_ = s.transition(StateDone)
		return nil, err
	}
	buildID := s.beginBuild(ctx, start)

	if err := s.transition(StateDiscovering); err != nil {
		return nil, err
	}
	sources, err := s.discover(env, inputs, rep)
	if err != nil {
		_ = s.transition(StateDone)
		return nil, err
	}

	if err := s.transition(StateCompiling); err != nil {
		return nil, err
	}
	comp, err := s.newCompiler(env)
	if err != nil {
		_ = s.transition(StateDone)
		return nil, err
	}
	s.compileAll(ctx, comp, sources, buildID, rep)

	if err := s.transition(StateRebuilding); err != nil {
		return nil, err
	}
	s.rebuild(ctx, env, comp, rep)

	if err := s.transition(StateDone); err != nil {
		return nil, err
	}
	rep.Elapsed = time.Since(start)
	s.finishBuild(ctx, buildID, rep)
	s.emit(telemetry.KindSessionDone, "", map[string]any{
		"skipped": rep.Skipped, "recompiled": rep.Recompiled, "failed": len(rep.Failed), "elapsed_ms": rep.Elapsed.Milliseconds(),
	})
	return rep, nil
}
