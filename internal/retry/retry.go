// Package retry wraps calls to external collaborators with checkpointed
// exponential backoff. Every attempt is bracketed by a durable session
// snapshot so a process restart resumes from the last completed step.
package retry

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Classification partitions an external failure.
type Classification int

const (
	// Recoverable errors are retried with backoff.
	Recoverable Classification = iota
	// Fatal errors abort immediately with no further attempts.
	Fatal
)

// Classifier decides whether an error from the wrapped operation is worth
// retrying. A nil classifier treats everything as recoverable.
type Classifier func(error) Classification

// Config controls the backoff policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig matches the pipeline's standard budget: five attempts,
// exponential delay capped at a minute, ±25% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      true,
	}
}

// ErrRetryExhausted carries enough context to resume the interrupted
// operation later.
type ErrRetryExhausted struct {
	Op       string
	Attempts int
	LastErr  error
}

func (e *ErrRetryExhausted) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.Op, e.Attempts, e.LastErr)
}

func (e *ErrRetryExhausted) Unwrap() error { return e.LastErr }

// Controller retries external calls and checkpoints the owning session
// around every attempt.
type Controller struct {
	cfg   Config
	store session.Store
}

// NewController builds a controller over a session store.
func NewController(cfg Config, store session.Store) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return &Controller{cfg: cfg, store: store}
}

// Call invokes fn up to MaxAttempts times. Fatal errors abort on the spot.
// When every attempt fails recoverably the session is moved to
// interrupted, checkpointed, and ErrRetryExhausted is returned.
func (c *Controller) Call(ctx context.Context, sess *models.Session, op string, fn func(context.Context) error, classify Classifier) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.delay(attempt)
			log.Printf("[Retry] %s attempt %d/%d for session %s in %s (last error: %v)",
				op, attempt, c.cfg.MaxAttempts, sess.ID, delay.Round(time.Millisecond), lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.checkpoint(ctx, sess); err != nil {
			return err
		}

		err := fn(ctx)

		if cperr := c.checkpoint(ctx, sess); cperr != nil {
			return cperr
		}

		if err == nil {
			return nil
		}

		if classify != nil && classify(err) == Fatal {
			log.Printf("[Retry] %s failed fatally for session %s: %v", op, sess.ID, err)
			return err
		}
		lastErr = err
	}

	log.Printf("[Retry] %s exhausted %d attempts for session %s", op, c.cfg.MaxAttempts, sess.ID)
	if err := session.Interrupt(sess, fmt.Sprintf("%s retry budget exhausted", op)); err != nil {
		log.Printf("[Retry] Failed to interrupt session %s: %v", sess.ID, err)
	} else if err := c.checkpoint(ctx, sess); err != nil {
		return err
	}

	return &ErrRetryExhausted{Op: op, Attempts: c.cfg.MaxAttempts, LastErr: lastErr}
}

// delay computes the wait before the given attempt (2-based): base delay
// doubled per attempt, with optional ±25% jitter. MaxDelay bounds the
// final wait, jitter included.
func (c *Controller) delay(attempt int) time.Duration {
	base := c.cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt-1)
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	if c.cfg.Jitter {
		jitter := time.Duration(rand.Int63n(int64(d) / 2))
		d = d - d/4 + jitter
		if d > c.cfg.MaxDelay {
			d = c.cfg.MaxDelay
		}
	}
	return d
}

func (c *Controller) checkpoint(ctx context.Context, sess *models.Session) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to checkpoint session %s: %w", sess.ID, err)
	}
	return nil
}
