package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// ErrLessonNotFound is returned when a lesson id does not exist.
var ErrLessonNotFound = errors.New("lesson not found")

// SaveLesson inserts or replaces a learned lesson. The full lesson is
// stored as a JSON document; the indexed columns are denormalized for
// lookup.
func (d *Database) SaveLesson(lesson *models.Lesson) error {
	if lesson == nil {
		return fmt.Errorf("lesson cannot be nil")
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now

	doc, err := json.Marshal(lesson)
	if err != nil {
		return fmt.Errorf("failed to marshal lesson: %w", err)
	}

	_, err = d.db.Exec(d.bind(`
		INSERT INTO learned_lessons (id, kind, source, confidence, schema_name, table_name, schema_column, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			source = excluded.source,
			confidence = excluded.confidence,
			schema_name = excluded.schema_name,
			table_name = excluded.table_name,
			schema_column = excluded.schema_column,
			doc = excluded.doc,
			updated_at = excluded.updated_at`),
		lesson.ID, string(lesson.Kind), string(lesson.Source), lesson.Confidence,
		lesson.SchemaName, lesson.TableName, lesson.SchemaColumn,
		string(doc), lesson.CreatedAt, lesson.UpdatedAt,
	)
	return err
}

// GetLesson loads a single lesson by id.
func (d *Database) GetLesson(id string) (*models.Lesson, error) {
	var doc string
	err := d.db.QueryRow(d.bind(`SELECT doc FROM learned_lessons WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalLesson(doc)
}

// ListLessons returns all stored lessons, newest first. A zero limit
// returns everything.
func (d *Database) ListLessons(limit int) ([]*models.Lesson, error) {
	q := `SELECT doc FROM learned_lessons ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(d.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []*models.Lesson
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		l, err := unmarshalLesson(doc)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// FindLesson looks up an existing lesson with the same identity, where
// identity is the (kind, from, to) triple of the mapping. Returns nil
// when no duplicate exists.
func (d *Database) FindLesson(kind models.LessonKind, schemaName, tableName, schemaColumn string) (*models.Lesson, error) {
	var doc string
	err := d.db.QueryRow(d.bind(`
		SELECT doc FROM learned_lessons
		WHERE kind = ? AND schema_name = ? AND table_name = ? AND schema_column = ?
		ORDER BY updated_at DESC LIMIT 1`),
		string(kind), schemaName, tableName, schemaColumn,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unmarshalLesson(doc)
}

// RecordLessonUsage applies the confidence evolution for one use of a
// lesson inside a transaction so concurrent sessions never lose an
// update.
func (d *Database) RecordLessonUsage(id string, successful bool) (*models.Lesson, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRow(d.bind(`SELECT doc FROM learned_lessons WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, err
	}

	lesson, err := unmarshalLesson(doc)
	if err != nil {
		return nil, err
	}
	lesson.RecordUsage(successful)

	updated, err := json.Marshal(lesson)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lesson: %w", err)
	}
	_, err = tx.Exec(d.bind(`
		UPDATE learned_lessons SET confidence = ?, doc = ?, updated_at = ? WHERE id = ?`),
		lesson.Confidence, string(updated), lesson.UpdatedAt, id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lesson, nil
}

// DeleteLesson removes a lesson by id.
func (d *Database) DeleteLesson(id string) error {
	res, err := d.db.Exec(d.bind(`DELETE FROM learned_lessons WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrLessonNotFound
	}
	return nil
}

func unmarshalLesson(doc string) (*models.Lesson, error) {
	var l models.Lesson
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lesson: %w", err)
	}
	return &l, nil
}
