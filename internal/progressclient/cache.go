package progressclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a Cache.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateLoading         State = "loading"
	StateReady           State = "ready"
	StateError           State = "error"
)

const defaultFetchTimeout = 15 * time.Second

var errCacheClosed = errors.New("progressclient: cache closed")

// Backend is the progress API surface the cache depends on. *Client satisfies it.
type Backend interface {
	List(ctx context.Context) ([]Record, error)
	Upsert(ctx context.Context, moduleSlug, lessonSlug string, status progress.Status) (Record, error)
}

// SessionSource reports the current identity. *Client satisfies it.
type SessionSource interface {
	Session(ctx context.Context) (*Identity, error)
}

// SessionRefresher is invoked when the API answers 401.
type SessionRefresher func(ctx context.Context) error

type CacheConfig struct {
	Backend Backend
	// Refresher defaults to re-reading the session from Backend when it is a SessionSource.
	Refresher    SessionRefresher
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Cache holds the signed-in user's progress records. A single goroutine owns
// all state; every public method is a message to it.
type Cache struct {
	backend      Backend
	refresher    SessionRefresher
	fetchTimeout time.Duration
	logger       *zap.Logger

	messages chan func(*cacheState)
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

type cacheState struct {
	state       State
	userID      string
	generation  uint64
	records     []Record
	// confirmed holds writes acknowledged while a fetch for the same generation is in flight.
	confirmed   []Record
	cancelFetch context.CancelFunc
}

type fetchResult struct {
	generation uint64
	records    []Record
	err        error
}

// NewCache starts the owning goroutine in the unauthenticated state. Call Close to stop it.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	cache := &Cache{
		backend:      cfg.Backend,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		messages:     make(chan func(*cacheState)),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	cache.refresher = cfg.Refresher
	if cache.refresher == nil {
		if source, ok := cfg.Backend.(SessionSource); ok {
			cache.refresher = cache.refreshFrom(source)
		}
	}
	go cache.run()
	return cache
}

func (c *Cache) run() {
	defer close(c.done)
	state := &cacheState{state: StateUnauthenticated}
	for {
		select {
		case <-c.ctx.Done():
			if state.cancelFetch != nil {
				state.cancelFetch()
			}
			return
		case message := <-c.messages:
			message(state)
		}
	}
}

// send delivers message to the owning goroutine; false once the cache is closed.
func (c *Cache) send(message func(*cacheState)) bool {
	select {
	case c.messages <- message:
		return true
	case <-c.done:
		return false
	case <-c.ctx.Done():
		return false
	}
}

// Close stops the owning goroutine and any in-flight fetch.
func (c *Cache) Close() {
	c.cancel()
	<-c.done
}

// AuthChanged moves the cache to unauthenticated when identity is nil and
// starts a fetch when a different user signs in. The same user is a no-op.
func (c *Cache) AuthChanged(identity *Identity) {
	c.send(func(state *cacheState) {
		if identity == nil || identity.UserID == "" {
			c.reset(state, StateUnauthenticated, "")
			return
		}
		if identity.UserID == state.userID && state.state != StateUnauthenticated {
			return
		}
		c.reset(state, StateLoading, identity.UserID)
		c.startFetch(state)
	})
}

// Refetch reloads the records of the current user, e.g. after a progress-change event.
func (c *Cache) Refetch() {
	c.send(func(state *cacheState) {
		if state.userID == "" {
			return
		}
		c.reset(state, StateLoading, state.userID)
		c.startFetch(state)
	})
}

func (c *Cache) reset(state *cacheState, next State, userID string) {
	if state.cancelFetch != nil {
		state.cancelFetch()
		state.cancelFetch = nil
	}
	state.generation++
	state.state = next
	state.userID = userID
	state.records = nil
	state.confirmed = nil
}

func (c *Cache) startFetch(state *cacheState) {
	generation := state.generation
	fetchCtx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	state.cancelFetch = cancel
	go func() {
		defer cancel()
		records, err := c.backend.List(fetchCtx)
		result := fetchResult{generation: generation, records: records, err: err}
		c.send(func(state *cacheState) {
			c.applyFetch(state, result)
		})
	}()
}

func (c *Cache) applyFetch(state *cacheState, result fetchResult) {
	if result.generation != state.generation {
		return
	}
	state.cancelFetch = nil
	confirmed := state.confirmed
	state.confirmed = nil
	if result.err != nil {
		c.logger.Warn("progress fetch failed",
			zap.String("user_id", state.userID),
			zap.Error(result.err))
		state.state = StateError
		state.records = nil
		return
	}
	state.state = StateReady
	state.records = append([]Record(nil), result.records...)
	for _, record := range confirmed {
		state.records = upsertRecord(state.records, record)
	}
}

// GetStatus returns the cached status, or not_started when no record matches.
func (c *Cache) GetStatus(moduleSlug, lessonSlug string) progress.Status {
	reply := make(chan progress.Status, 1)
	if !c.send(func(state *cacheState) {
		status := progress.StatusNotStarted
		if index := findRecord(state.records, moduleSlug, lessonSlug); index >= 0 {
			status = state.records[index].Status
		}
		reply <- status
	}) {
		return progress.StatusNotStarted
	}
	return <-reply
}

// State reports the current lifecycle stage.
func (c *Cache) State() State {
	reply := make(chan State, 1)
	if !c.send(func(state *cacheState) { reply <- state.state }) {
		return StateUnauthenticated
	}
	return <-reply
}

// Records returns a copy of the cached records.
func (c *Cache) Records() []Record {
	reply := make(chan []Record, 1)
	if !c.send(func(state *cacheState) { reply <- append([]Record(nil), state.records...) }) {
		return nil
	}
	return <-reply
}

// UpdateStatus writes through to the API and, on success, replaces or appends the
// record. A 401 triggers the session refresher and returns ErrUnauthorized.
func (c *Cache) UpdateStatus(ctx context.Context, moduleSlug, lessonSlug string, status progress.Status) (Record, error) {
	if _, err := progress.ParseStatus(string(status)); err != nil {
		return Record{}, err
	}

	generationReply := make(chan uint64, 1)
	if !c.send(func(state *cacheState) { generationReply <- state.generation }) {
		return Record{}, errCacheClosed
	}
	generation := <-generationReply

	record, err := c.backend.Upsert(ctx, moduleSlug, lessonSlug, status)
	if errors.Is(err, ErrUnauthorized) {
		if c.refresher != nil {
			if refreshErr := c.refresher(ctx); refreshErr != nil {
				c.logger.Warn("session refresh failed", zap.Error(refreshErr))
			}
		}
		return Record{}, ErrUnauthorized
	}
	if err != nil {
		return Record{}, fmt.Errorf("progressclient: update status: %w", err)
	}

	c.send(func(state *cacheState) {
		if state.generation != generation {
			return
		}
		state.records = upsertRecord(state.records, record)
		if state.state == StateLoading {
			state.confirmed = upsertRecord(state.confirmed, record)
		}
	})
	return record, nil
}

func (c *Cache) refreshFrom(source SessionSource) SessionRefresher {
	return func(ctx context.Context) error {
		identity, err := source.Session(ctx)
		if err != nil {
			return err
		}
		c.AuthChanged(identity)
		return nil
	}
}

func upsertRecord(records []Record, record Record) []Record {
	if index := findRecord(records, record.ModuleSlug, record.LessonSlug); index >= 0 {
		records[index] = record
		return records
	}
	return append(records, record)
}

func findRecord(records []Record, moduleSlug, lessonSlug string) int {
	for index, record := range records {
		if record.ModuleSlug == moduleSlug && record.LessonSlug == lessonSlug {
			return index
		}
	}
	return -1
}
