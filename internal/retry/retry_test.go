package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// memStore counts checkpoints so tests can assert the bracketing contract.
type memStore struct {
	mu       sync.Mutex
	saves    int
	sessions map[string]*models.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.Session)}
}

func (m *memStore) Save(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memStore) Load(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}

func (m *memStore) Delete(ctx context.Context, id string) error { return nil }

func (m *memStore) List(ctx context.Context, state models.State, limit int) ([]*models.Session, error) {
	return nil, nil
}

func fastConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Jitter:      false,
	}
}

func TestCall_SucceedsFirstAttempt(t *testing.T) {
	store := newMemStore()
	c := NewController(fastConfig(), store)
	sess := models.NewSession("q")
	sess.State = models.StateSchemaLoading

	calls := 0
	err := c.Call(context.Background(), sess, "schema_loading", func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	// One checkpoint before the attempt, one after.
	assert.Equal(t, 2, store.saves)
}

func TestCall_RetriesRecoverableThenSucceeds(t *testing.T) {
	store := newMemStore()
	c := NewController(fastConfig(), store)
	sess := models.NewSession("q")
	sess.State = models.StateSchemaLoading

	calls := 0
	err := c.Call(context.Background(), sess, "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, func(error) Classification { return Recoverable })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, models.StateSchemaLoading, sess.State)
}

func TestCall_FatalAbortsImmediately(t *testing.T) {
	store := newMemStore()
	c := NewController(fastConfig(), store)
	sess := models.NewSession("q")
	sess.State = models.StateGeneratingSQL

	fatal := errors.New("model rejected the prompt")
	calls := 0
	err := c.Call(context.Background(), sess, "op", func(ctx context.Context) error {
		calls++
		return fatal
	}, func(error) Classification { return Fatal })

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	// A fatal error is not a retry exhaustion; the session stays put.
	assert.Equal(t, models.StateGeneratingSQL, sess.State)
}

func TestCall_ExhaustionInterruptsSession(t *testing.T) {
	store := newMemStore()
	c := NewController(fastConfig(), store)
	sess := models.NewSession("q")
	sess.State = models.StateSchemaLoading

	boom := errors.New("i/o timeout")
	calls := 0
	err := c.Call(context.Background(), sess, "schema_loading", func(ctx context.Context) error {
		calls++
		return boom
	}, func(error) Classification { return Recoverable })

	require.Error(t, err)
	var exhausted *ErrRetryExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, "schema_loading", exhausted.Op)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 5, calls)
	assert.Equal(t, models.StateInterrupted, sess.State)
	assert.Equal(t, models.StateSchemaLoading, sess.ResumeState)

	// The interrupted checkpoint is durable.
	saved, lerr := store.Load(context.Background(), sess.ID)
	require.NoError(t, lerr)
	assert.Equal(t, models.StateInterrupted, saved.State)
}

func TestCall_NilClassifierTreatsErrorsAsRecoverable(t *testing.T) {
	c := NewController(fastConfig(), newMemStore())
	sess := models.NewSession("q")
	sess.State = models.StateSchemaLoading

	calls := 0
	err := c.Call(context.Background(), sess, "op", func(ctx context.Context) error {
		calls++
		return errors.New("whatever")
	}, nil)

	var exhausted *ErrRetryExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, calls)
}

func TestCall_ContextCancelStopsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second
	c := NewController(cfg, newMemStore())
	sess := models.NewSession("q")
	sess.State = models.StateSchemaLoading

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Call(ctx, sess, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelay_ExponentialCapped(t *testing.T) {
	c := NewController(Config{MaxAttempts: 10, MaxDelay: 60 * time.Second, Jitter: false}, nil)

	assert.Equal(t, 2*time.Second, c.delay(2))
	assert.Equal(t, 4*time.Second, c.delay(3))
	assert.Equal(t, 8*time.Second, c.delay(4))
	assert.Equal(t, 16*time.Second, c.delay(5))
	// 2^7 = 128s caps at the maximum.
	assert.Equal(t, 60*time.Second, c.delay(8))
}

func TestDelay_JitterStaysWithinBand(t *testing.T) {
	c := NewController(Config{MaxAttempts: 5, MaxDelay: 60 * time.Second, Jitter: true}, nil)

	base := 8 * time.Second
	for i := 0; i < 100; i++ {
		d := c.delay(4)
		assert.GreaterOrEqual(t, d, base-base/4)
		assert.LessOrEqual(t, d, base+base/4)
	}
}

func TestDelay_JitterNeverExceedsMaxDelay(t *testing.T) {
	c := NewController(Config{MaxAttempts: 10, MaxDelay: 60 * time.Second, Jitter: true}, nil)

	// 2^7 = 128s caps at 60s; the jittered wait must not climb back
	// above the ceiling.
	for i := 0; i < 200; i++ {
		d := c.delay(8)
		assert.GreaterOrEqual(t, d, 45*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}
