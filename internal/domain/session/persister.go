package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/shell/internal/storage"
)

// DefaultStorageKey is the key the browser state is stored under.
const DefaultStorageKey = "browser-storage"

// corruptSuffix names the key an unreadable blob is moved to.
const corruptSuffix = ".corrupt"

// Persister mirrors a Store into a storage.KV. Writes are queued by store
// listeners and performed on a single worker goroutine; bursts of
// mutations collapse into one write of the latest state.
type Persister struct {
	store   *Store
	kv      storage.KV
	key     string
	timeout time.Duration

	logger  *logging.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	writeMu sync.Mutex

	signal      chan struct{}
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()
	startOnce   sync.Once
	closeOnce   sync.Once
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithKey overrides the storage key.
func WithKey(key string) PersisterOption {
	return func(p *Persister) { p.key = key }
}

// WithPersistLogger sets the logger.
func WithPersistLogger(l *logging.Logger) PersisterOption {
	return func(p *Persister) { p.logger = l }
}

// WithPersistMetrics sets the metrics sink.
func WithPersistMetrics(m *monitoring.Metrics) PersisterOption {
	return func(p *Persister) { p.metrics = m }
}

// WithWriteTimeout bounds each background write.
func WithWriteTimeout(d time.Duration) PersisterOption {
	return func(p *Persister) { p.timeout = d }
}

// WithBreaker replaces the write circuit breaker.
func WithBreaker(b *resilience.Breaker) PersisterOption {
	return func(p *Persister) { p.breaker = b }
}

// NewPersister creates a persister. Call Load, then Start.
func NewPersister(store *Store, kv storage.KV, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:   store,
		kv:      kv,
		key:     DefaultStorageKey,
		timeout: 5 * time.Second,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger).Component("persister")
	if p.breaker == nil {
		p.breaker = resilience.New("persist", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		})
	}
	return p
}

// Load hydrates the store from storage. It reports whether a blob existed.
// A blob that cannot be read or decoded is moved to "<key>.corrupt" before
// the error is returned, so the next write does not destroy it.
func (p *Persister) Load(ctx context.Context) (bool, error) {
	data, err := p.kv.Get(ctx, p.key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("read %s: %w", p.key, err)
		}
		return false, p.quarantine(ctx, fmt.Errorf("read %s: %w", p.key, err))
	}

	blob, err := Decode(data)
	if err != nil {
		return false, p.quarantine(ctx, err)
	}
	p.store.Restore(blob)
	p.logger.Info("Restored browser state",
		zap.Int("tabs", len(blob.Tabs)),
		zap.Int("bookmarks", len(blob.Bookmarks)),
		zap.Int("history", len(blob.History)))
	return true, nil
}

func (p *Persister) quarantine(ctx context.Context, cause error) error {
	dest := p.key + corruptSuffix
	if err := p.kv.Rename(ctx, p.key, dest); err != nil {
		return errors.Join(cause, fmt.Errorf("move %s aside: %w", p.key, err))
	}
	p.logger.Warn("Moved unreadable browser state aside",
		zap.String("key", p.key),
		zap.String("moved_to", dest),
		zap.Error(cause))
	return cause
}

// Start begins mirroring store changes.
func (p *Persister) Start() {
	p.startOnce.Do(func() {
		p.unsubscribe = p.store.Subscribe(func(c Change) {
			if c.Kind == ChangeRestored {
				return
			}
			p.schedule()
		})
		go p.run()
	})
}

func (p *Persister) schedule() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.signal:
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("Failed to persist browser state", zap.Error(err))
			}
			cancel()
		}
	}
}

// Flush synchronously writes the current projection.
func (p *Persister) Flush(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := time.Now()
	data, err := Encode(Project(p.store.Snapshot()))
	if err == nil {
		err = p.breaker.RunContext(ctx, func(ctx context.Context) error {
			return p.kv.Set(ctx, p.key, data)
		})
	}
	p.metrics.RecordPersist(err, time.Since(start))
	return err
}

// Close stops the worker and performs a final write.
func (p *Persister) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		started := false
		p.startOnce.Do(func() {}) // a never-started persister has no worker
		if p.unsubscribe != nil {
			p.unsubscribe()
			started = true
		}
		close(p.stop)
		if started {
			<-p.done
		}
		err = p.Flush(ctx)
	})
	return err
}
