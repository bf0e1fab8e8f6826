// Package orchestrator drives a query session through the pipeline:
// schema loading, query understanding, join inference, SQL generation
// and execution, with ambiguity routed to the caller and every step
// checkpointed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/queryforge/internal/engine"
	"github.com/jordanhubbard/queryforge/internal/events"
	"github.com/jordanhubbard/queryforge/internal/join"
	"github.com/jordanhubbard/queryforge/internal/memory"
	"github.com/jordanhubbard/queryforge/internal/metrics"
	"github.com/jordanhubbard/queryforge/internal/reasoning"
	"github.com/jordanhubbard/queryforge/internal/retry"
	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Reasoner is the slice of the reasoning service the orchestrator uses.
type Reasoner interface {
	Understand(ctx context.Context, query string, sch *schema.Schema, constraints []string, lessonContext string) (*reasoning.Understanding, error)
	GenerateSQL(ctx context.Context, query string, sch *schema.Schema, tables []string, joins []models.JoinCandidate, constraints []string, lessonContext string, priorAttempts []models.SQLAttempt) (*reasoning.SQLResult, error)
}

// Config bounds the pipeline loops.
type Config struct {
	SchemaSource   string
	MaxSQLCycles   int
	MaxCorrections int
}

// DefaultConfig returns the standard budgets: three generation cycles,
// three correction rounds.
func DefaultConfig() Config {
	return Config{
		MaxSQLCycles:   3,
		MaxCorrections: 3,
	}
}

// Orchestrator owns the session lifecycle. One goroutine drives one
// session at a time; concurrent sessions are independent.
type Orchestrator struct {
	cfg      Config
	store    session.Store
	schemas  schema.Provider
	reasoner Reasoner
	joins    *join.Engine
	executor engine.Executor
	memory   *memory.Engine
	retrier  *retry.Controller
	metrics  *metrics.Metrics
	events   *events.Publisher
}

// New wires an orchestrator. events may be nil.
func New(cfg Config, store session.Store, schemas schema.Provider, reasoner Reasoner, executor engine.Executor, mem *memory.Engine, pub *events.Publisher) (*Orchestrator, error) {
	if cfg.MaxSQLCycles <= 0 {
		cfg.MaxSQLCycles = 3
	}
	if cfg.MaxCorrections <= 0 {
		cfg.MaxCorrections = 3
	}
	if store == nil {
		return nil, &ConfigurationError{Reason: "session store is required"}
	}
	if schemas == nil {
		return nil, &ConfigurationError{Reason: "schema provider is required"}
	}
	if reasoner == nil {
		return nil, &ConfigurationError{Reason: "reasoning service is required"}
	}
	if executor == nil {
		return nil, &ConfigurationError{Reason: "query executor is required"}
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		schemas:  schemas,
		reasoner: reasoner,
		joins:    join.NewEngine(),
		executor: executor,
		memory:   mem,
		retrier:  retry.NewController(retry.DefaultConfig(), store),
		metrics:  metrics.NewMetrics(),
		events:   pub,
	}, nil
}

// SetRetryConfig replaces the retry policy, mainly for tests.
func (o *Orchestrator) SetRetryConfig(cfg retry.Config) {
	o.retrier = retry.NewController(cfg, o.store)
}

// Submit runs a new natural-language query through the pipeline.
func (o *Orchestrator) Submit(ctx context.Context, query string) (*models.Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Reason: "query must not be empty"}
	}

	sess := models.NewSession(query)
	sess.SchemaSource = o.cfg.SchemaSource
	o.metrics.SessionsStarted.Inc()
	o.metrics.ActiveSessions.Inc()
	defer o.metrics.ActiveSessions.Dec()
	log.Printf("[Orchestrator] Session %s started for query: %s", sess.ID, query)

	if err := o.transition(ctx, sess, models.StateSchemaLoading, "session started"); err != nil {
		return nil, err
	}
	return o.run(ctx, sess)
}

// Resume continues a session that is awaiting a correction or was
// interrupted. The correction is required for awaiting sessions and
// optional for interrupted ones.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, corr *models.Correction) (*models.Outcome, error) {
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o.metrics.ActiveSessions.Inc()
	defer o.metrics.ActiveSessions.Dec()

	switch sess.State {
	case models.StateAwaitingCorrection:
		if corr == nil {
			return nil, &ValidationError{Reason: "session is awaiting a correction"}
		}
		return o.resumeWithCorrection(ctx, sess, *corr)

	case models.StateInterrupted:
		if corr != nil {
			sess.AddCorrection(*corr)
		}
		if err := o.transition(ctx, sess, sess.ResumeState, "resumed"); err != nil {
			return nil, err
		}
		log.Printf("[Orchestrator] Session %s resumed into %s", sess.ID, sess.State)
		return o.run(ctx, sess)

	case models.StateCompleted, models.StateFailed:
		return nil, &ValidationError{Reason: fmt.Sprintf("session %s already %s", sess.ID, sess.State)}

	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("session %s is active in state %s", sess.ID, sess.State)}
	}
}

// resumeWithCorrection applies a user correction and re-enters the
// phase that raised the ambiguity.
func (o *Orchestrator) resumeWithCorrection(ctx context.Context, sess *models.Session, corr models.Correction) (*models.Outcome, error) {
	sess.CorrectionAttempts++
	if sess.CorrectionAttempts > o.cfg.MaxCorrections {
		log.Printf("[Orchestrator] Session %s exceeded %d correction attempts", sess.ID, o.cfg.MaxCorrections)
		return o.failWithoutTransition(ctx, sess, ErrCorrectionLimit)
	}

	sess.AddCorrection(corr)

	phase := models.StateQueryUnderstanding
	if sess.Ambiguity != nil && sess.Ambiguity.Phase != "" {
		phase = sess.Ambiguity.Phase
	}
	sess.SkipAmbiguityPhase = phase
	sess.Ambiguity = nil

	if err := o.transition(ctx, sess, phase, "correction applied"); err != nil {
		return nil, err
	}
	log.Printf("[Orchestrator] Session %s re-entering %s after correction (%s)", sess.ID, phase, corr.Type)
	return o.run(ctx, sess)
}

// run drives the session from its current state to an outcome.
func (o *Orchestrator) run(ctx context.Context, sess *models.Session) (*models.Outcome, error) {
	sch, outcome, err := o.loadSchema(ctx, sess)
	if outcome != nil || err != nil {
		return outcome, err
	}

	for {
		switch sess.State {
		case models.StateSchemaLoading:
			if err := o.transition(ctx, sess, models.StateQueryUnderstanding, "schema loaded"); err != nil {
				return nil, err
			}

		case models.StateQueryUnderstanding:
			outcome, err := o.understand(ctx, sess, sch)
			if outcome != nil || err != nil {
				return outcome, err
			}

		case models.StateInferringJoins:
			outcome, err := o.inferJoins(ctx, sess, sch)
			if outcome != nil || err != nil {
				return outcome, err
			}

		case models.StateGeneratingSQL:
			return o.sqlCycle(ctx, sess, sch)

		case models.StateExecutingQuery:
			outcome, err := o.resumeExecution(ctx, sess, sch)
			if outcome != nil || err != nil {
				return outcome, err
			}

		default:
			return nil, fmt.Errorf("session %s in unexpected state %s", sess.ID, sess.State)
		}
	}
}

// loadSchema fetches the schema through the retry controller. The
// session keeps running through transient source failures; unusable
// content interrupts the run.
func (o *Orchestrator) loadSchema(ctx context.Context, sess *models.Session) (*schema.Schema, *models.Outcome, error) {
	var sch *schema.Schema
	err := o.retrier.Call(ctx, sess, "schema_loading", func(ctx context.Context) error {
		var err error
		sch, err = o.schemas.Load(sess.SchemaSource)
		return err
	}, classifySchemaError)

	if err == nil {
		return sch, nil, nil
	}

	var exhausted *retry.ErrRetryExhausted
	if errors.As(err, &exhausted) {
		o.metrics.RetryExhausted.WithLabelValues("schema_loading").Inc()
		return nil, o.interruptedOutcome(sess), nil
	}
	// Unusable schema content. The session is parked, fixing the source
	// and resuming is cheaper than starting over.
	if ierr := o.interrupt(ctx, sess, fmt.Sprintf("schema error: %v", err)); ierr != nil {
		return nil, nil, ierr
	}
	return nil, nil, &SchemaError{Source: sess.SchemaSource, Err: err}
}

// understand analyzes the query, applies table-selection corrections,
// and routes table ambiguity to the caller.
func (o *Orchestrator) understand(ctx context.Context, sess *models.Session, sch *schema.Schema) (*models.Outcome, error) {
	lessons := o.relevantLessons(sess, nil)

	var u *reasoning.Understanding
	start := time.Now()
	err := o.retrier.Call(ctx, sess, "query_understanding", func(ctx context.Context) error {
		var err error
		u, err = o.reasoner.Understand(ctx, sess.Query, sch, sess.HardConstraints, lessons)
		return err
	}, classifyReasoningError)
	o.metrics.ReasoningLatency.WithLabelValues("understand").Observe(time.Since(start).Seconds())
	o.metrics.ReasoningRequests.WithLabelValues("understand", fmt.Sprint(err == nil)).Inc()

	if outcome, rerr := o.handlePhaseError(ctx, sess, "query_understanding", err); outcome != nil || rerr != nil {
		return outcome, rerr
	}

	tables := applyTableCorrections(u.Tables, sess.Corrections)

	if u.Ambiguous && len(u.AmbiguityOptions) >= 2 && sess.SkipAmbiguityPhase != models.StateQueryUnderstanding {
		return o.raiseAmbiguity(ctx, sess, &models.AmbiguityInfo{
			Kind:    "table_choice",
			Options: u.AmbiguityOptions,
			Context: u.AmbiguityReason,
			Phase:   models.StateQueryUnderstanding,
		})
	}
	if len(tables) == 0 {
		return o.raiseAmbiguity(ctx, sess, &models.AmbiguityInfo{
			Kind:    "table_choice",
			Options: sch.TableNames(),
			Context: "could not identify which tables answer the question",
			Phase:   models.StateQueryUnderstanding,
		})
	}
	if sess.SkipAmbiguityPhase == models.StateQueryUnderstanding {
		sess.SkipAmbiguityPhase = ""
	}

	sess.IdentifiedTables = tables
	log.Printf("[Orchestrator] Session %s identified tables: %v", sess.ID, tables)

	next := models.StateGeneratingSQL
	if u.JoinsNeeded && len(tables) >= 2 {
		next = models.StateInferringJoins
	}
	return nil, o.transition(ctx, sess, next, "query understood")
}

// inferJoins scores join candidates for each adjacent table pair.
// Ambiguity stops the run unless the user already resolved this phase.
func (o *Orchestrator) inferJoins(ctx context.Context, sess *models.Session, sch *schema.Schema) (*models.Outcome, error) {
	sess.AcceptedJoins = nil
	sess.JoinCandidates = nil

	for i := 0; i < len(sess.IdentifiedTables)-1; i++ {
		left := sch.Table(sess.IdentifiedTables[i])
		right := sch.Table(sess.IdentifiedTables[i+1])
		if left == nil || right == nil {
			return o.raiseAmbiguity(ctx, sess, &models.AmbiguityInfo{
				Kind:    "table_choice",
				Options: sch.TableNames(),
				Context: fmt.Sprintf("table %q is not in the schema", sess.IdentifiedTables[i]),
				Phase:   models.StateInferringJoins,
			})
		}

		candidates, err := o.joins.Infer(left, right, sess.Corrections)
		if err != nil {
			var ambiguous *join.AmbiguousJoinError
			if errors.As(err, &ambiguous) {
				if sess.SkipAmbiguityPhase == models.StateInferringJoins {
					// The user already weighed in this round; take the
					// leader rather than asking again.
					candidates = ambiguous.Candidates[:1]
					log.Printf("[Orchestrator] Session %s taking top join candidate after correction: %s",
						sess.ID, candidates[0].Condition())
				} else {
					sess.JoinCandidates = append(sess.JoinCandidates, ambiguous.Candidates...)
					return o.raiseAmbiguity(ctx, sess, &models.AmbiguityInfo{
						Kind:    "join_choice",
						Options: ambiguous.Options(),
						Context: fmt.Sprintf("multiple plausible joins between %s and %s", left.Name, right.Name),
						Phase:   models.StateInferringJoins,
					})
				}
			} else {
				var noJoin *join.NoJoinFoundError
				if errors.As(err, &noJoin) {
					return o.raiseAmbiguity(ctx, sess, &models.AmbiguityInfo{
						Kind:    "join_choice",
						Context: fmt.Sprintf("no join candidate found between %s and %s, please provide the join condition", left.Name, right.Name),
						Phase:   models.StateInferringJoins,
					})
				}
				return nil, err
			}
		}

		sess.JoinCandidates = append(sess.JoinCandidates, candidates...)
		sess.AcceptedJoins = append(sess.AcceptedJoins, candidates[0])
	}

	if sess.SkipAmbiguityPhase == models.StateInferringJoins {
		sess.SkipAmbiguityPhase = ""
	}
	log.Printf("[Orchestrator] Session %s accepted %d join(s)", sess.ID, len(sess.AcceptedJoins))
	return nil, o.transition(ctx, sess, models.StateGeneratingSQL, "joins inferred")
}

// resumeExecution picks a session back up that was interrupted while
// executing: the last generated statement is validated and run again.
// With no generated SQL on record the cycle restarts at generation.
func (o *Orchestrator) resumeExecution(ctx context.Context, sess *models.Session, sch *schema.Schema) (*models.Outcome, error) {
	sqlText := sess.FinalSQL()
	if sqlText == "" {
		return nil, o.transition(ctx, sess, models.StateGeneratingSQL, "no generated sql on record")
	}
	log.Printf("[Orchestrator] Session %s re-executing last generated SQL", sess.ID)

	result, sqlErr, outcome, err := o.validateAndExecute(ctx, sess, sqlText)
	if outcome != nil || err != nil {
		return outcome, err
	}
	if sqlErr == nil {
		return o.complete(ctx, sess, sqlText, result)
	}
	if sess.IterationCount >= o.cfg.MaxSQLCycles {
		return o.fail(ctx, sess, fmt.Errorf("%w: last error: %v", ErrSQLCyclesExceeded, sqlErr))
	}
	return nil, o.transition(ctx, sess, models.StateGeneratingSQL,
		fmt.Sprintf("regenerating after error: %v", truncate(sqlErr.Error(), 120)))
}

// sqlCycle runs the generate/validate/execute loop up to MaxSQLCycles
// iterations, feeding each failure back into the next generation.
func (o *Orchestrator) sqlCycle(ctx context.Context, sess *models.Session, sch *schema.Schema) (*models.Outcome, error) {
	tables := o.transformTables(sess)

	for {
		lessons := o.relevantLessons(sess, sess.SQLAttempts)

		var gen *reasoning.SQLResult
		start := time.Now()
		err := o.retrier.Call(ctx, sess, "sql_generation", func(ctx context.Context) error {
			var err error
			gen, err = o.reasoner.GenerateSQL(ctx, sess.Query, sch, tables, sess.AcceptedJoins,
				sess.HardConstraints, lessons, failedAttempts(sess.SQLAttempts))
			return err
		}, classifyReasoningError)
		o.metrics.ReasoningLatency.WithLabelValues("generate_sql").Observe(time.Since(start).Seconds())
		o.metrics.ReasoningRequests.WithLabelValues("generate_sql", fmt.Sprint(err == nil)).Inc()

		if outcome, rerr := o.handlePhaseError(ctx, sess, "sql_generation", err); outcome != nil || rerr != nil {
			return outcome, rerr
		}

		// A cycle is consumed once generation produced SQL; an
		// interrupted generation attempt does not count against the
		// budget when the session resumes.
		sess.IterationCount++
		sess.AddSQLAttempt(models.SQLAttempt{SQL: gen.SQL, Phase: "generation", Success: true})
		o.metrics.SQLAttempts.WithLabelValues("generation", "true").Inc()

		if err := o.transition(ctx, sess, models.StateExecutingQuery, "sql generated"); err != nil {
			return nil, err
		}

		result, sqlErr, outcome, rerr := o.validateAndExecute(ctx, sess, gen.SQL)
		if outcome != nil || rerr != nil {
			return outcome, rerr
		}

		if sqlErr == nil {
			return o.complete(ctx, sess, gen.SQL, result)
		}

		if sess.IterationCount >= o.cfg.MaxSQLCycles {
			log.Printf("[Orchestrator] Session %s exhausted %d SQL cycles", sess.ID, o.cfg.MaxSQLCycles)
			return o.fail(ctx, sess, fmt.Errorf("%w: last error: %v", ErrSQLCyclesExceeded, sqlErr))
		}
		if err := o.transition(ctx, sess, models.StateGeneratingSQL,
			fmt.Sprintf("regenerating after error: %v", truncate(sqlErr.Error(), 120))); err != nil {
			return nil, err
		}
	}
}

// validateAndExecute dry-runs then executes the SQL. A returned sqlErr
// means the statement itself is wrong and worth regenerating; infra
// failures go through the retry controller.
func (o *Orchestrator) validateAndExecute(ctx context.Context, sess *models.Session, sqlText string) (result *engine.Result, sqlErr error, outcome *models.Outcome, err error) {
	verr := o.retrier.Call(ctx, sess, "query_validation", func(ctx context.Context) error {
		return o.executor.Validate(ctx, sqlText)
	}, classifyExecutionError)
	if verr != nil {
		var exhausted *retry.ErrRetryExhausted
		if errors.As(verr, &exhausted) {
			o.metrics.RetryExhausted.WithLabelValues("query_validation").Inc()
			return nil, nil, o.interruptedOutcome(sess), nil
		}
		sess.AddSQLAttempt(models.SQLAttempt{SQL: sqlText, Phase: "validation", Error: verr.Error()})
		o.metrics.SQLAttempts.WithLabelValues("validation", "false").Inc()
		return nil, verr, nil, nil
	}

	start := time.Now()
	eerr := o.retrier.Call(ctx, sess, "query_execution", func(ctx context.Context) error {
		var err error
		result, err = o.executor.Execute(ctx, sqlText)
		return err
	}, classifyExecutionError)
	o.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if eerr != nil {
		var exhausted *retry.ErrRetryExhausted
		if errors.As(eerr, &exhausted) {
			o.metrics.RetryExhausted.WithLabelValues("query_execution").Inc()
			return nil, nil, o.interruptedOutcome(sess), nil
		}
		sess.AddSQLAttempt(models.SQLAttempt{SQL: sqlText, Phase: "execution", Error: eerr.Error()})
		o.metrics.SQLAttempts.WithLabelValues("execution", "false").Inc()
		return nil, eerr, nil, nil
	}

	o.metrics.SQLAttempts.WithLabelValues("execution", "true").Inc()
	o.metrics.RowsReturned.Observe(float64(result.RowCount))
	return result, nil, nil, nil
}

// complete finalizes a successful run and feeds it to the memory engine.
func (o *Orchestrator) complete(ctx context.Context, sess *models.Session, sqlText string, result *engine.Result) (*models.Outcome, error) {
	sess.AddSQLAttempt(models.SQLAttempt{SQL: sqlText, Phase: "execution", Success: true, RowCount: result.RowCount})
	sess.ResultSummary = &models.ResultSummary{
		RowCount:       result.RowCount,
		BytesProcessed: result.BytesProcessed,
		Rows:           result.Rows,
	}

	if err := o.transition(ctx, sess, models.StateCompleted, "query executed"); err != nil {
		return nil, err
	}
	o.learn(sess)
	o.recordOutcome(sess, models.OutcomeCompleted)
	log.Printf("[Orchestrator] Session %s completed with %d row(s)", sess.ID, result.RowCount)

	return &models.Outcome{
		Kind:      models.OutcomeCompleted,
		SessionID: sess.ID,
		SQL:       sqlText,
		Results:   sess.ResultSummary,
	}, nil
}

// fail moves the session to failed with a summary. Only reachable from
// query execution.
func (o *Orchestrator) fail(ctx context.Context, sess *models.Session, cause error) (*models.Outcome, error) {
	sess.FailureSummary = buildFailureSummary(sess, cause)
	if err := o.transition(ctx, sess, models.StateFailed, cause.Error()); err != nil {
		return nil, err
	}
	o.learn(sess)
	o.recordOutcome(sess, models.OutcomeFailed)
	return &models.Outcome{
		Kind:      models.OutcomeFailed,
		SessionID: sess.ID,
		Failure:   sess.FailureSummary,
	}, nil
}

// failWithoutTransition reports failure from a state with no edge to
// failed, such as the correction budget running out while awaiting
// input. The session keeps its state so it can still be inspected.
func (o *Orchestrator) failWithoutTransition(ctx context.Context, sess *models.Session, cause error) (*models.Outcome, error) {
	sess.FailureSummary = buildFailureSummary(sess, cause)
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	o.recordOutcome(sess, models.OutcomeFailed)
	return &models.Outcome{
		Kind:      models.OutcomeFailed,
		SessionID: sess.ID,
		Failure:   sess.FailureSummary,
	}, nil
}

// raiseAmbiguity parks the session awaiting a correction.
func (o *Orchestrator) raiseAmbiguity(ctx context.Context, sess *models.Session, info *models.AmbiguityInfo) (*models.Outcome, error) {
	sess.Ambiguity = info
	if err := o.transition(ctx, sess, models.StateAwaitingCorrection, info.Kind); err != nil {
		return nil, err
	}
	o.recordOutcome(sess, models.OutcomeAmbiguous)
	log.Printf("[Orchestrator] Session %s awaiting correction: %s (%d options)", sess.ID, info.Kind, len(info.Options))
	return &models.Outcome{
		Kind:      models.OutcomeAmbiguous,
		SessionID: sess.ID,
		Ambiguity: info,
	}, nil
}

// handlePhaseError turns a retry result into either an interrupted
// outcome (budget exhausted) or an interrupted session (fatal error).
func (o *Orchestrator) handlePhaseError(ctx context.Context, sess *models.Session, op string, err error) (*models.Outcome, error) {
	if err == nil {
		return nil, nil
	}
	var exhausted *retry.ErrRetryExhausted
	if errors.As(err, &exhausted) {
		o.metrics.RetryExhausted.WithLabelValues(op).Inc()
		return o.interruptedOutcome(sess), nil
	}
	if ierr := o.interrupt(ctx, sess, fmt.Sprintf("%s failed: %v", op, err)); ierr != nil {
		return nil, ierr
	}
	return o.interruptedOutcome(sess), nil
}

func (o *Orchestrator) interrupt(ctx context.Context, sess *models.Session, reason string) error {
	if err := session.Interrupt(sess, reason); err != nil {
		return err
	}
	o.metrics.StateTransitions.WithLabelValues(string(sess.ResumeState), string(models.StateInterrupted)).Inc()
	o.events.Transition(sess.ID, sess.ResumeState, models.StateInterrupted, reason)
	return o.store.Save(ctx, sess)
}

func (o *Orchestrator) interruptedOutcome(sess *models.Session) *models.Outcome {
	o.recordOutcome(sess, models.OutcomeInterrupted)
	return &models.Outcome{
		Kind:        models.OutcomeInterrupted,
		SessionID:   sess.ID,
		ResumeToken: sess.ID,
	}
}

// transition applies a state edge, checkpoints, and emits telemetry.
func (o *Orchestrator) transition(ctx context.Context, sess *models.Session, to models.State, reason string) error {
	from := sess.State
	if err := session.Transition(sess, to, reason); err != nil {
		return err
	}
	o.metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	o.events.Transition(sess.ID, from, to, reason)
	return o.store.Save(ctx, sess)
}

// transformTables applies lesson mappings to the identified tables and
// records which lessons influenced the run.
func (o *Orchestrator) transformTables(sess *models.Session) []string {
	if o.memory == nil {
		return sess.IdentifiedTables
	}
	out := make([]string, len(sess.IdentifiedTables))
	for i, t := range sess.IdentifiedTables {
		mapped, lessonID := o.memory.TransformTable(t)
		out[i] = mapped
		if lessonID != "" {
			sess.RecordLessonUse(lessonID)
			o.metrics.LessonsApplied.WithLabelValues(string(models.LessonTableMapping)).Inc()
		}
	}
	return out
}

func (o *Orchestrator) relevantLessons(sess *models.Session, attempts []models.SQLAttempt) string {
	if o.memory == nil {
		return ""
	}
	lastError := ""
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Error != "" {
			lastError = attempts[i].Error
			break
		}
	}
	lessons := o.memory.RelevantLessons(sess.Query, sess.IdentifiedTables, lastError)
	for _, l := range lessons {
		sess.RecordLessonUse(l.ID)
	}
	return memory.ContextString(lessons)
}

func (o *Orchestrator) learn(sess *models.Session) {
	if o.memory == nil {
		return
	}
	for _, l := range o.memory.LearnFromSession(sess) {
		o.metrics.LessonsLearned.WithLabelValues(string(l.Source)).Inc()
	}
}

func (o *Orchestrator) recordOutcome(sess *models.Session, kind models.OutcomeKind) {
	o.metrics.SessionOutcomes.WithLabelValues(string(kind)).Inc()
	o.metrics.SessionDuration.WithLabelValues(string(kind)).Observe(time.Since(sess.CreatedAt).Seconds())
	o.events.Outcome(sess.ID, string(kind))
}

// applyTableCorrections honors table-selection corrections: the chosen
// table is kept, rejected ones are dropped.
func applyTableCorrections(tables []string, corrections []models.Correction) []string {
	for _, c := range corrections {
		if c.Type != models.CorrectionTableSelection || c.SelectedTable == "" {
			continue
		}
		rejected := make(map[string]bool, len(c.RejectedTables))
		for _, r := range c.RejectedTables {
			rejected[strings.ToLower(r)] = true
		}
		var kept []string
		found := false
		for _, t := range tables {
			if rejected[strings.ToLower(t)] {
				continue
			}
			if strings.EqualFold(t, c.SelectedTable) {
				found = true
			}
			kept = append(kept, t)
		}
		if !found {
			kept = append(kept, c.SelectedTable)
		}
		tables = kept
	}
	return tables
}

// failedAttempts returns only the attempts that carry an error, for
// feedback into regeneration.
func failedAttempts(attempts []models.SQLAttempt) []models.SQLAttempt {
	var failed []models.SQLAttempt
	for _, a := range attempts {
		if a.Error != "" {
			failed = append(failed, a)
		}
	}
	return failed
}

func buildFailureSummary(sess *models.Session, cause error) *models.FailureSummary {
	summary := &models.FailureSummary{
		Query:              sess.Query,
		IdentifiedTables:   sess.IdentifiedTables,
		SQLAttempts:        len(sess.SQLAttempts),
		CorrectionAttempts: sess.CorrectionAttempts,
		Error:              cause.Error(),
	}

	if len(sess.IdentifiedTables) == 0 {
		summary.Recommendations = append(summary.Recommendations,
			"Rephrase the question using table or column names from the schema")
	}
	for _, a := range sess.SQLAttempts {
		if a.Error != "" && strings.Contains(strings.ToLower(a.Error), "not found") {
			summary.Recommendations = append(summary.Recommendations,
				"A referenced table or column does not exist, check the schema definition or add a mapping lesson")
			break
		}
	}
	if errors.Is(cause, ErrCorrectionLimit) {
		summary.Recommendations = append(summary.Recommendations,
			"Start a new session with a more specific question instead of further corrections")
	}
	if len(summary.Recommendations) == 0 {
		summary.Recommendations = append(summary.Recommendations,
			"Simplify the question or break it into smaller parts")
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
