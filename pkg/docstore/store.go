package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID         string
	Collection string
	Seq        int
	SourceRef  string
	Text       string
	Embedding  []float32
}

// ScoredChunk pairs a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk
	Score float64
}

// SQLiteStore persists chunks for every conversation in one database,
// partitioned by collection (the conversation id).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the documents database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create documents db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			source_ref TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_collection_idx ON chunks(collection, created_at_ms, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init documents db: %w", err)
		}
	}
	return nil
}

// InsertChunks stores texts with their vectors. Ingesting the same
// content twice inserts fresh rows; dedup is not this layer's job.
func (s *SQLiteStore) InsertChunks(ctx context.Context, collection, sourceRef, model string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("got %d texts but %d vectors", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, collection, seq, source_ref, content, embedding_model, embedding, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i, text := range texts {
		_, err := stmt.ExecContext(ctx,
			uuid.NewString(), collection, i, sourceRef, text, model,
			encodeVector(vectors[i]), now)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// SearchSimilar scans the collection and ranks chunks by cosine
// similarity against the query vector. Vectors stored under a different
// embedding model are skipped rather than compared apples-to-oranges.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, collection, model string, query []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 4
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, collection, seq, source_ref, content, embedding
		FROM chunks WHERE collection = ? AND embedding_model = ?`, collection, model)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Collection, &c.Seq, &c.SourceRef, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = decodeVector(blob)
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosineSimilarity(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// AllChunks returns a collection's chunks in ingestion order, for
// whole-document summarization.
func (s *SQLiteStore) AllChunks(ctx context.Context, collection string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, collection, seq, source_ref, content
		FROM chunks WHERE collection = ? ORDER BY created_at_ms, seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Collection, &c.Seq, &c.SourceRef, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ClearCollection removes every chunk of a conversation. The second
// call is a no-op reporting false.
func (s *SQLiteStore) ClearCollection(ctx context.Context, collection string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection)
	if err != nil {
		return false, fmt.Errorf("clear collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count reports how many chunks a conversation has stored.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Vacuum reclaims space freed by cleared collections.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
