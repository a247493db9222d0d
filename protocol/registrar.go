package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/world-registry/interfaces"
	"github.com/ruteri/world-registry/metrics"
	"go.uber.org/atomic"
)

// State is the registrar progress.
//
//	NotChecked -> Checking -> AlreadyPresent
//	                       -> Registering -> Registered
//
// Failed is reachable from Checking and Registering. There are no transitions back.
type State int32

const (
	NotChecked State = iota
	Checking
	AlreadyPresent
	Registering
	Registered
	Failed
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not_checked"
	case Checking:
		return "checking"
	case AlreadyPresent:
		return "already_present"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client issues store operations on behalf of the registry identity.
// *identity.Agent implements it.
type Client interface {
	QueryProtocols(ctx context.Context, filter interfaces.ProtocolsFilter) ([]interfaces.ProtocolEntry, error)
	RegisterProtocol(ctx context.Context, definition interfaces.ProtocolDefinition, version string) error
	Store() interfaces.ProtocolStore
}

// Config tunes a Registrar. Zero durations and attempts take the defaults below.
type Config struct {
	// OpTimeout bounds every single store operation attempt.
	OpTimeout time.Duration

	// MaxAttempts bounds attempts per operation, retries included.
	MaxAttempts uint64

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Log *slog.Logger
}

const (
	DefaultOpTimeout       = 30 * time.Second
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Registrar ensures a protocol definition exists in the store at a fixed version.
//
// It runs at most once. The query-then-write sequence is not atomic: two
// registrars racing against a store without uniqueness enforcement may both
// write. Stores reporting ErrProtocolExists close that gap.
type Registrar struct {
	client     Client
	definition interfaces.ProtocolDefinition
	version    semver.Version
	cfg        Config
	log        *slog.Logger
	state      atomic.Int32
}

// NewRegistrar creates a registrar for definition at version.
func NewRegistrar(client Client, definition interfaces.ProtocolDefinition, version semver.Version, cfg Config) *Registrar {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Registrar{
		client:     client,
		definition: definition,
		version:    version,
		cfg:        cfg,
		log:        log.With("protocol", definition.Protocol, "protocolVersion", version.String()),
	}
}

// NewWorldRegistrar creates a registrar for the embedded world registry definition.
// A malformed embedded schema fails here with ErrSchemaParse.
func NewWorldRegistrar(client Client, cfg Config) (*Registrar, error) {
	definition, version, err := WorldRegistry()
	if err != nil {
		return nil, err
	}
	return NewRegistrar(client, definition, version, cfg), nil
}

func (r *Registrar) State() State {
	return State(r.state.Load())
}

// Run checks the store and registers the definition if absent.
// It returns the terminal state reached. A second call returns ErrRegistrarAlreadyRun.
func (r *Registrar) Run(ctx context.Context) (State, error) {
	if !r.state.CompareAndSwap(int32(NotChecked), int32(Checking)) {
		return r.State(), interfaces.ErrRegistrarAlreadyRun
	}

	version := r.version.String()
	filter := interfaces.ProtocolsFilter{
		Protocol: r.definition.Protocol,
		Versions: []string{version},
	}

	var entries []interfaces.ProtocolEntry
	err := r.retry(ctx, interfaces.StoreOpQuery, func(ctx context.Context) error {
		var err error
		entries, err = r.client.QueryProtocols(ctx, filter)
		return err
	})
	if err != nil {
		return r.fail(err)
	}

	if len(entries) > 0 {
		r.log.Info("World registry already registered", "entries", len(entries))
		return r.finish(AlreadyPresent), nil
	}

	r.state.Store(int32(Registering))
	r.log.Info("Creating world registry", "version", "v"+version)

	err = r.retry(ctx, interfaces.StoreOpRegister, func(ctx context.Context) error {
		return r.client.RegisterProtocol(ctx, r.definition, version)
	})
	if errors.Is(err, interfaces.ErrProtocolExists) {
		r.log.Info("World registry registered concurrently, keeping existing definition")
		return r.finish(AlreadyPresent), nil
	}
	if err != nil {
		return r.fail(err)
	}

	r.log.Info("World registry created")
	return r.finish(Registered), nil
}

func (r *Registrar) finish(state State) State {
	r.state.Store(int32(state))
	metrics.ProtocolRegistrations.WithLabelValues(state.String()).Inc()
	return state
}

func (r *Registrar) fail(err error) (State, error) {
	return r.finish(Failed), err
}

// retry runs fn until it succeeds, fails permanently, or attempts run out.
// Each attempt gets its own OpTimeout.
func (r *Registrar) retry(ctx context.Context, op interfaces.StoreOp, fn func(context.Context) error) error {
	storeName := r.client.Store().Name()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxAttempts-1), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
		defer cancel()

		start := time.Now()
		err := fn(opCtx)
		metrics.ObserveStoreOp(storeName, string(op), start, err)
		if err == nil {
			return nil
		}

		if errors.Is(err, interfaces.ErrProtocolExists) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: attempt timed out after %s: %v", interfaces.ErrStoreUnavailable, r.cfg.OpTimeout, err)
		}

		storeErr := &interfaces.StoreError{Op: op, Store: storeName, Err: err}
		if !interfaces.IsRetryable(err) {
			return backoff.Permanent(storeErr)
		}
		return storeErr
	}

	notify := func(err error, next time.Duration) {
		r.log.Warn("Store operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"maxAttempts", r.cfg.MaxAttempts,
			"retryIn", next,
			"err", err)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// Task is a scheduled registrar run.
type Task struct {
	registrar *Registrar
	done      chan struct{}
	cancel    context.CancelFunc
	state     State
	err       error
}

// Start runs the registrar in the background and returns its handle.
func (r *Registrar) Start(ctx context.Context) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		registrar: r,
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go func() {
		defer close(t.done)
		defer cancel()
		t.state, t.err = r.Run(ctx)
	}()

	return t
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run has finished and returns its outcome.
func (t *Task) Wait() (State, error) {
	<-t.done
	return t.state, t.err
}

// State returns the current state of the run.
func (t *Task) State() State {
	return t.registrar.State()
}

// Cancel aborts pending store operations and retries.
func (t *Task) Cancel() {
	t.cancel()
}
