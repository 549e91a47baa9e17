package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/chunk"
	"github.com/seanblong/repochat/internal/fetch"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// statusTimeout bounds the final status write, which runs even after the
// job context is cancelled.
const statusTimeout = 10 * time.Second

// Fetcher places a checkout of a repository in dest.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL, dest, token string) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Options tunes an Orchestrator.
type Options struct {
	// WorkDir is the parent of per-job workspaces; os.TempDir() when empty.
	WorkDir   string
	ChunkSize int
	Overlap   int
	Filter    fetch.Filter
}

func DefaultOptions() Options {
	return Options{
		ChunkSize: chunk.DefaultSize,
		Overlap:   chunk.DefaultOverlap,
		Filter:    fetch.DefaultFilter(),
	}
}

// Orchestrator runs ingestion jobs: clone, enumerate, chunk, embed, store.
// Files and chunks of a job are handled strictly one after another.
type Orchestrator struct {
	Client     ai.Client
	Projects   store.ProjectStore
	Documents  store.DocumentStore
	Fetcher    Fetcher
	FileReader FileReader
	Options    Options
}

// New creates an Orchestrator. The client should already be paced.
func New(client ai.Client, projects store.ProjectStore, documents store.DocumentStore, fetcher Fetcher, opts Options) (*Orchestrator, error) {
	if err := chunk.Validate(opts.ChunkSize, opts.Overlap); err != nil {
		return nil, err
	}
	if client == nil || projects == nil || documents == nil || fetcher == nil {
		return nil, errors.New("ingest: client, stores and fetcher are required")
	}
	return &Orchestrator{
		Client:     client,
		Projects:   projects,
		Documents:  documents,
		Fetcher:    fetcher,
		FileReader: &DefaultFileReader{},
		Options:    opts,
	}, nil
}

// Run executes one job to a terminal status. The workspace is removed on
// every path. The returned error explains a failed status.
func (o *Orchestrator) Run(ctx context.Context, job queue.Job) (models.Status, error) {
	start := time.Now()
	logger := log.With().Str("project_id", job.ProjectID).Logger()
	m := newJobMachine(logger)

	logger.Info().Bool("authenticated", job.GithubToken != "").Msg("starting ingestion job")

	// The workspace is gone before the terminal status is written.
	err := o.inWorkspace(job.ProjectID, logger, func(workspace string) error {
		return o.ingest(ctx, m, job, workspace, logger)
	})

	if err == nil {
		m.fire(evFinalize)
		if err = o.setStatus(ctx, job.ProjectID, models.StatusCompleted); err == nil {
			m.fire(evComplete)
		}
	}

	status := models.StatusCompleted
	if err != nil {
		status = models.StatusFailed
		m.fire(evFail)
		if serr := o.setStatus(ctx, job.ProjectID, models.StatusFailed); serr != nil {
			err = errors.Join(err, serr)
		}
		logger.Error().Err(err).Str("state", m.current()).Msg("ingestion job failed")
	} else {
		logger.Info().Dur("dur", time.Since(start)).Msg("ingestion job finished")
	}

	recordJob(status, time.Since(start))
	return status, err
}

func (o *Orchestrator) inWorkspace(projectID string, logger zerolog.Logger, fn func(workspace string) error) error {
	workspace, err := os.MkdirTemp(o.Options.WorkDir, workspacePattern(projectID))
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			logger.Error().Err(rmErr).Str("workspace", workspace).Msg("failed to remove workspace")
		}
	}()
	return fn(workspace)
}

func (o *Orchestrator) ingest(ctx context.Context, m *jobMachine, job queue.Job, workspace string, logger zerolog.Logger) error {
	m.fire(evClone)
	if err := o.Fetcher.Fetch(ctx, job.RepoURL, workspace, job.GithubToken); err != nil {
		return err
	}

	m.fire(evEnumerate)
	files, err := fetch.Enumerate(workspace, o.Options.Filter)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	logger.Info().Int("files", len(files)).Msg("found files to process")

	m.fire(evProcess)
	for _, rel := range files {
		if err := o.processFile(ctx, job.ProjectID, workspace, rel, logger); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processFile(ctx context.Context, projectID, workspace, rel string, logger zerolog.Logger) error {
	b, err := o.FileReader.ReadFile(filepath.Join(workspace, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	windows, err := chunk.Split(sanitize(b), o.Options.ChunkSize, o.Options.Overlap)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", rel, err)
	}
	logger.Info().Str("path", rel).Int("chunks", len(windows)).Msg("processing file")

	for i, w := range windows {
		began := time.Now()
		vec, err := o.Client.Embed(ctx, w.Text)
		recordEmbed(time.Since(began), err)
		if err != nil {
			return fmt.Errorf("embed %s chunk %d: %w", rel, i, err)
		}

		doc := models.DocumentChunk{
			ProjectID: projectID,
			FilePath:  rel,
			Content:   w.Text,
			Embedding: vec,
		}
		if err := o.Documents.InsertDocument(ctx, doc); err != nil {
			return fmt.Errorf("store %s chunk %d: %w", rel, i, err)
		}
		recordChunk()
	}
	recordFile()
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, projectID string, status models.Status) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := o.Projects.UpdateStatus(ctx, projectID, status); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// workspacePattern derives a MkdirTemp pattern from the project id, keeping
// only characters that are safe in a directory name.
func workspacePattern(projectID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, projectID)
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return "repochat-" + clean + "-*"
}

// sanitize turns file bytes into text the store accepts.
func sanitize(b []byte) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}
