package project

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// ErrInvalidURL is returned for a repository URL that does not name a
// GitHub repository.
var ErrInvalidURL = errors.New("invalid GitHub URL")

var githubHosts = map[string]bool{
	"github.com":     true,
	"www.github.com": true,
}

// AddResult is the outcome of AddProject. Existing reports that the
// repository was already registered and no job was enqueued.
type AddResult struct {
	Project  models.Project
	Existing bool
}

// Service registers repositories and schedules their ingestion.
type Service struct {
	Store store.ProjectStore
	Queue queue.Publisher
}

// NewService creates a new project service with the provided store and queue
func NewService(st store.ProjectStore, q queue.Publisher) *Service {
	return &Service{Store: st, Queue: q}
}

// Canonicalize trims surrounding whitespace and trailing slashes.
func Canonicalize(repoURL string) string {
	return strings.TrimRight(strings.TrimSpace(repoURL), "/")
}

// ValidateRepoURL accepts http(s) URLs of the form github.com/owner/repo.
func ValidateRepoURL(repoURL string) error {
	u, err := url.Parse(repoURL)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ErrInvalidURL
	}
	if !githubHosts[strings.ToLower(u.Hostname())] || u.Port() != "" {
		return ErrInvalidURL
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return ErrInvalidURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return ErrInvalidURL
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return ErrInvalidURL
		}
	}
	return nil
}

// AddProject registers repoURL and enqueues its ingestion. Registering the
// same canonical URL again returns the existing project. token is handed to
// the worker through the queue and is never stored.
func (s *Service) AddProject(ctx context.Context, repoURL, token string) (AddResult, error) {
	canonical := Canonicalize(repoURL)
	if err := ValidateRepoURL(canonical); err != nil {
		return AddResult{}, err
	}

	existing, found, err := s.Store.FindProjectByURL(ctx, canonical)
	if err != nil {
		return AddResult{}, err
	}
	if found {
		return AddResult{Project: existing, Existing: true}, nil
	}

	p, created, err := s.Store.CreateProject(ctx, canonical)
	if err != nil {
		return AddResult{}, err
	}
	if !created {
		return AddResult{Project: p, Existing: true}, nil
	}

	job := queue.Job{ProjectID: p.ID, RepoURL: p.RepoURL, GithubToken: token}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		// The project row stays pending with no job behind it.
		log.Error().Err(err).Str("project_id", p.ID).Msg("failed to enqueue ingestion job")
		return AddResult{}, fmt.Errorf("enqueue project %s: %w", p.ID, err)
	}

	log.Info().Str("project_id", p.ID).Str("repo_url", p.RepoURL).Bool("authenticated", token != "").Msg("project registered")
	return AddResult{Project: p}, nil
}

// GetProject returns the project with the given id or store.ErrNotFound.
func (s *Service) GetProject(ctx context.Context, id string) (models.Project, error) {
	return s.Store.GetProject(ctx, strings.TrimSpace(id))
}
