package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/repochat/pkg/models"
)

// ErrNotFound is returned when a requested project does not exist.
var ErrNotFound = errors.New("not found")

// ProjectStore persists project records.
type ProjectStore interface {
	// CreateProject inserts a pending project for repoURL. If a project with
	// that URL already exists it is returned with created=false.
	CreateProject(ctx context.Context, repoURL string) (p models.Project, created bool, err error)
	FindProjectByURL(ctx context.Context, repoURL string) (models.Project, bool, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
}

// DocumentStore persists embedded chunks and searches them.
type DocumentStore interface {
	InsertDocument(ctx context.Context, d models.DocumentChunk) error
	// MatchDocuments returns at most count chunks of projectID whose cosine
	// similarity to embedding exceeds threshold, most similar first.
	MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int, projectID string) ([]models.Match, error)
}

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ProjectStore  = (*Store)(nil)
	_ DocumentStore = (*Store)(nil)
)

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schema, dim))
	return err
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS projects (
  id         UUID PRIMARY KEY,
  repo_url   TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS projects_repo_url_uidx
  ON projects (repo_url);

CREATE TABLE IF NOT EXISTS documents (
  id         BIGSERIAL PRIMARY KEY,
  project_id UUID NOT NULL REFERENCES projects (id),
  file_path  TEXT NOT NULL,
  content    TEXT NOT NULL,
  embedding  vector(%[1]d) NOT NULL
);

CREATE INDEX IF NOT EXISTS documents_project_idx
  ON documents (project_id);

CREATE OR REPLACE FUNCTION match_documents(
  query_embedding   vector(%[1]d),
  match_threshold   FLOAT,
  match_count       INT,
  filter_project_id UUID
)
RETURNS TABLE (file_path TEXT, content TEXT, similarity FLOAT)
LANGUAGE sql STABLE
AS $$
  SELECT d.file_path, d.content, 1 - (d.embedding <=> query_embedding) AS similarity
  FROM documents d
  WHERE d.project_id = filter_project_id
    AND 1 - (d.embedding <=> query_embedding) > match_threshold
  ORDER BY d.embedding <=> query_embedding
  LIMIT match_count;
$$;
`

const projectColumns = `id::text, repo_url, status, created_at`

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	var status string
	if err := row.Scan(&p.ID, &p.RepoURL, &status, &p.CreatedAt); err != nil {
		return models.Project{}, err
	}
	p.Status = models.Status(status)
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, repoURL string) (models.Project, bool, error) {
	const q = `
		INSERT INTO projects (id, repo_url, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (repo_url) DO NOTHING
		RETURNING ` + projectColumns

	p, err := scanProject(s.pool.QueryRow(ctx, q, uuid.NewString(), repoURL, string(models.StatusPending)))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Project{}, false, fmt.Errorf("insert project: %w", err)
	}

	// Lost the race against a concurrent insert of the same URL.
	existing, found, err := s.FindProjectByURL(ctx, repoURL)
	if err != nil {
		return models.Project{}, false, err
	}
	if !found {
		return models.Project{}, false, fmt.Errorf("insert project: conflicting row for %s vanished", repoURL)
	}
	return existing, false, nil
}

func (s *Store) FindProjectByURL(ctx context.Context, repoURL string) (models.Project, bool, error) {
	q := `SELECT ` + projectColumns + ` FROM projects WHERE repo_url = $1 LIMIT 1`
	p, err := scanProject(s.pool.QueryRow(ctx, q, repoURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, false, nil
		}
		return models.Project{}, false, fmt.Errorf("find project: %w", err)
	}
	return p, true, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	// Anything that is not a UUID cannot name a project.
	if _, err := uuid.Parse(id); err != nil {
		return models.Project{}, ErrNotFound
	}
	q := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, ErrNotFound
		}
		return models.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertDocument(ctx context.Context, d models.DocumentChunk) error {
	const q = `
		INSERT INTO documents (project_id, file_path, content, embedding)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, d.ProjectID, d.FilePath, d.Content, pgvector.NewVector(d.Embedding)); err != nil {
		return fmt.Errorf("insert document %s: %w", d.FilePath, err)
	}
	return nil
}

func (s *Store) MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int, projectID string) ([]models.Match, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return []models.Match{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT file_path, content, similarity FROM match_documents($1, $2, $3, $4)`,
		pgvector.NewVector(embedding), threshold, count, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}
	defer rows.Close()

	out := []models.Match{}
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.FilePath, &m.Content, &m.Similarity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
