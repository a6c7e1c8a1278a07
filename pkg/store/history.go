// Package store keeps an audit trail of answered questions in Postgres. It is
// never read to answer a question.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/logger"
)

// ErrNoEmbedder is returned by Related when no embedder is configured.
var ErrNoEmbedder = errors.New("no embedder configured")

type HistoryConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
	// Embedder is optional. Without it questions are stored without vectors.
	Embedder types.Embedder
	Logger   *zap.Logger
}

// Record is one answered question.
type Record struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Citations   []string  `json:"citations"`
	ModelID     string    `json:"model_id"`
	SourceCount int       `json:"source_count"`
	Degraded    bool      `json:"degraded"`
	CreatedAt   time.Time `json:"created_at"`
}

type History struct {
	config HistoryConfig
	pool   *pgxpool.Pool
	table  string
	log    *zap.Logger
}

func NewWithConfig(ctx context.Context, config HistoryConfig) (*History, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.TableName == "" {
		config.TableName = "answers"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	h := &History{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		log:    logger.OrNop(config.Logger),
	}

	if err := h.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return h, nil
}

func (h *History) initialize(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			citations JSONB NOT NULL DEFAULT '[]',
			model_id TEXT NOT NULL,
			source_count INTEGER NOT NULL DEFAULT 0,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, h.table, h.config.VectorDim)
	if _, err := h.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at DESC)`,
		pgx.Identifier{h.config.TableName + "_created_at_idx"}.Sanitize(), h.table)
	if _, err := h.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Save stores rec, filling in its id and timestamp when unset. An embedding
// failure is logged and the record is stored without a vector.
func (h *History) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Citations == nil {
		rec.Citations = []string{}
	}
	rec.Question = sanitizeUTF8(rec.Question)
	rec.Answer = sanitizeUTF8(rec.Answer)

	var embedding any
	if h.config.Embedder != nil {
		vec, err := h.config.Embedder.EmbedQuery(ctx, rec.Question)
		if err != nil {
			h.log.Warn("failed to embed question, storing without vector", zap.Error(err))
		} else {
			embedding = pgvector.NewVector(vec)
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, question, answer, citations, model_id, source_count, degraded, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			answer = EXCLUDED.answer,
			citations = EXCLUDED.citations,
			degraded = EXCLUDED.degraded`,
		h.table)

	_, err := h.pool.Exec(ctx, stmt,
		rec.ID,
		rec.Question,
		rec.Answer,
		rec.Citations,
		rec.ModelID,
		rec.SourceCount,
		rec.Degraded,
		embedding,
		rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to insert answer: %w", err)
	}

	return rec, nil
}

// Recent returns the latest records, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = h.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT id, question, answer, citations, model_id, source_count, degraded, created_at
		FROM %s
		ORDER BY created_at DESC
		LIMIT $1`,
		h.table)

	return h.query(ctx, query, limit)
}

// Similar returns the records whose question vectors are closest to embedding.
func (h *History) Similar(ctx context.Context, embedding []float32, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = h.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT id, question, answer, citations, model_id, source_count, degraded, created_at
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $1`,
		h.table)

	return h.query(ctx, query, limit, pgvector.NewVector(embedding))
}

// Related embeds question and returns the closest stored records.
func (h *History) Related(ctx context.Context, question string, limit int) ([]Record, error) {
	if h.config.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := h.config.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	return h.Similar(ctx, vec, limit)
}

func (h *History) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.ID,
			&rec.Question,
			&rec.Answer,
			&rec.Citations,
			&rec.ModelID,
			&rec.SourceCount,
			&rec.Degraded,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return records, nil
}

func (h *History) Close() {
	if h.pool != nil {
		h.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
