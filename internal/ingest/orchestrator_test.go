package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/repochat/internal/chunk"
	"github.com/seanblong/repochat/internal/queue"
	"github.com/seanblong/repochat/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	embedCalls   int
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "mock answer", nil
}

func (m *MockAIClient) Dim() int { return 3 }

// MockStore implements store.ProjectStore and store.DocumentStore for testing
type MockStore struct {
	UpdateStatusFunc   func(ctx context.Context, id string, status models.Status) error
	InsertDocumentFunc func(ctx context.Context, d models.DocumentChunk) error

	statuses  []models.Status
	documents []models.DocumentChunk
}

func (m *MockStore) CreateProject(ctx context.Context, repoURL string) (models.Project, bool, error) {
	return models.Project{}, false, errors.New("not implemented")
}

func (m *MockStore) FindProjectByURL(ctx context.Context, repoURL string) (models.Project, bool, error) {
	return models.Project{}, false, nil
}

func (m *MockStore) GetProject(ctx context.Context, id string) (models.Project, error) {
	return models.Project{}, errors.New("not implemented")
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	m.statuses = append(m.statuses, status)
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockStore) InsertDocument(ctx context.Context, d models.DocumentChunk) error {
	if m.InsertDocumentFunc != nil {
		if err := m.InsertDocumentFunc(ctx, d); err != nil {
			return err
		}
	}
	m.documents = append(m.documents, d)
	return nil
}

func (m *MockStore) MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int, projectID string) ([]models.Match, error) {
	return nil, nil
}

func (m *MockStore) lastStatus() models.Status {
	if len(m.statuses) == 0 {
		return ""
	}
	return m.statuses[len(m.statuses)-1]
}

// MockFetcher writes Files into the destination instead of cloning.
type MockFetcher struct {
	Files map[string]string
	Err   error

	dest  string
	token string
}

func (m *MockFetcher) Fetch(ctx context.Context, repoURL, dest, token string) error {
	m.dest = dest
	m.token = token
	if m.Err != nil {
		return m.Err
	}
	for rel, content := range m.Files {
		p := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newTestOrchestrator(t *testing.T, client *MockAIClient, st *MockStore, f *MockFetcher) *Orchestrator {
	t.Helper()
	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	o, err := New(client, st, st, f, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func assertWorkspaceRemoved(t *testing.T, f *MockFetcher) {
	t.Helper()
	if f.dest == "" {
		t.Fatal("fetcher was never called")
	}
	if _, err := os.Stat(f.dest); !os.IsNotExist(err) {
		t.Errorf("Expected workspace %s to be removed, stat err=%v", f.dest, err)
	}
}

var testJob = queue.Job{ProjectID: "8c5a4f0e-1b7c-4c1a-9d52-0a8f7f3b1e11", RepoURL: "https://github.com/acme/demo"}

func TestOrchestrator_Run(t *testing.T) {
	tests := []struct {
		name           string
		files          map[string]string
		fetchErr       error
		embedFunc      func(ctx context.Context, text string) ([]float32, error)
		insertFunc     func(ctx context.Context, d models.DocumentChunk) error
		expectedStatus models.Status
		expectedDocs   int
		expectedEmbeds int
	}{
		{
			name:           "single short file",
			files:          map[string]string{"main.go": "package main\n"},
			expectedStatus: models.StatusCompleted,
			expectedDocs:   1,
			expectedEmbeds: 1,
		},
		{
			name: "multiple files and chunks",
			files: map[string]string{
				"a.ts":     strings.Repeat("a", 2500),
				"b/b.md":   strings.Repeat("b", 900),
				"skip.png": "binary",
			},
			expectedStatus: models.StatusCompleted,
			expectedDocs:   4,
			expectedEmbeds: 4,
		},
		{
			name:           "zero files is not an error",
			files:          map[string]string{"image.png": "x", ".git/config": "[core]"},
			expectedStatus: models.StatusCompleted,
		},
		{
			name:           "empty file yields no chunks",
			files:          map[string]string{"empty.go": ""},
			expectedStatus: models.StatusCompleted,
		},
		{
			name:           "clone failure",
			fetchErr:       errors.New("authentication failed"),
			expectedStatus: models.StatusFailed,
		},
		{
			name:  "insert failure aborts job",
			files: map[string]string{"a.go": strings.Repeat("x", 1900), "b.go": "package b"},
			insertFunc: func(ctx context.Context, d models.DocumentChunk) error {
				return errors.New("connection reset")
			},
			expectedStatus: models.StatusFailed,
			expectedEmbeds: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockAIClient{EmbedFunc: tt.embedFunc}
			st := &MockStore{InsertDocumentFunc: tt.insertFunc}
			f := &MockFetcher{Files: tt.files, Err: tt.fetchErr}
			o := newTestOrchestrator(t, client, st, f)

			status, err := o.Run(context.Background(), testJob)
			if status != tt.expectedStatus {
				t.Errorf("Expected status %s, got %s (err %v)", tt.expectedStatus, status, err)
			}
			if (err != nil) != (tt.expectedStatus == models.StatusFailed) {
				t.Errorf("Expected error only for failed jobs, got %v", err)
			}
			if st.lastStatus() != tt.expectedStatus {
				t.Errorf("Expected stored status %s, got %v", tt.expectedStatus, st.statuses)
			}
			if len(st.documents) != tt.expectedDocs {
				t.Errorf("Expected %d documents, got %d", tt.expectedDocs, len(st.documents))
			}
			if client.embedCalls != tt.expectedEmbeds {
				t.Errorf("Expected %d embed calls, got %d", tt.expectedEmbeds, client.embedCalls)
			}
			assertWorkspaceRemoved(t, f)
		})
	}
}

func TestOrchestrator_EmbedFailureOnThirdChunkOfSecondFile(t *testing.T) {
	// a.go has one chunk, b.go has three; enumeration order is a.go then b.go.
	files := map[string]string{
		"a.go": "package a",
		"b.go": strings.Repeat("b", 2500),
	}
	calls := 0
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			calls++
			if calls == 4 {
				return nil, errors.New("429 resource exhausted")
			}
			return []float32{1, 0, 0}, nil
		},
	}
	st := &MockStore{}
	f := &MockFetcher{Files: files}
	o := newTestOrchestrator(t, client, st, f)

	status, err := o.Run(context.Background(), testJob)
	if status != models.StatusFailed {
		t.Fatalf("Expected failed status, got %s", status)
	}
	if err == nil || !strings.Contains(err.Error(), "b.go chunk 2") {
		t.Errorf("Expected error naming b.go chunk 2, got %v", err)
	}
	if st.lastStatus() != models.StatusFailed {
		t.Errorf("Expected stored status failed, got %v", st.statuses)
	}
	if len(st.documents) != 3 {
		t.Errorf("Expected the 3 chunks before the failure to be stored, got %d", len(st.documents))
	}
	assertWorkspaceRemoved(t, f)
}

func TestOrchestrator_PersistsChunksInOrder(t *testing.T) {
	content := strings.Repeat("0123456789", 250) // 2500 chars
	st := &MockStore{}
	f := &MockFetcher{Files: map[string]string{"src/app.py": content}}
	o := newTestOrchestrator(t, &MockAIClient{}, st, f)

	if status, err := o.Run(context.Background(), testJob); status != models.StatusCompleted {
		t.Fatalf("Expected completed, got %s: %v", status, err)
	}

	windows, _ := chunk.Split(content, chunk.DefaultSize, chunk.DefaultOverlap)
	if len(st.documents) != len(windows) {
		t.Fatalf("Expected %d documents, got %d", len(windows), len(st.documents))
	}
	for i, d := range st.documents {
		if d.FilePath != "src/app.py" {
			t.Errorf("doc %d: expected path src/app.py, got %s", i, d.FilePath)
		}
		if d.ProjectID != testJob.ProjectID {
			t.Errorf("doc %d: expected project %s, got %s", i, testJob.ProjectID, d.ProjectID)
		}
		if d.Content != windows[i].Text {
			t.Errorf("doc %d: content does not match window %d", i, i)
		}
		if len(d.Embedding) != 3 {
			t.Errorf("doc %d: expected embedding of length 3, got %d", i, len(d.Embedding))
		}
	}
}

func TestOrchestrator_PassesTokenToFetcher(t *testing.T) {
	f := &MockFetcher{}
	o := newTestOrchestrator(t, &MockAIClient{}, &MockStore{}, f)

	job := testJob
	job.GithubToken = "ghp_secret"
	if _, err := o.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.token != "ghp_secret" {
		t.Errorf("Expected token to reach fetcher, got %q", f.token)
	}
	if !strings.HasPrefix(filepath.Base(f.dest), "repochat-8c5a4f0e-") {
		t.Errorf("Expected workspace derived from project id, got %s", f.dest)
	}
}

func TestOrchestrator_CompletedStatusWriteFails(t *testing.T) {
	st := &MockStore{
		UpdateStatusFunc: func(ctx context.Context, id string, status models.Status) error {
			if status == models.StatusCompleted {
				return errors.New("db down")
			}
			return nil
		},
	}
	f := &MockFetcher{Files: map[string]string{"a.go": "package a"}}
	o := newTestOrchestrator(t, &MockAIClient{}, st, f)

	status, err := o.Run(context.Background(), testJob)
	if status != models.StatusFailed || err == nil {
		t.Fatalf("Expected failed status with error, got %s / %v", status, err)
	}
	want := []models.Status{models.StatusCompleted, models.StatusFailed}
	if len(st.statuses) != 2 || st.statuses[0] != want[0] || st.statuses[1] != want[1] {
		t.Errorf("Expected status writes %v, got %v", want, st.statuses)
	}
}

func TestOrchestrator_FailedStatusWriteIsReported(t *testing.T) {
	st := &MockStore{
		UpdateStatusFunc: func(ctx context.Context, id string, status models.Status) error {
			return errors.New("db down")
		},
	}
	f := &MockFetcher{Err: errors.New("clone failed")}
	o := newTestOrchestrator(t, &MockAIClient{}, st, f)

	_, err := o.Run(context.Background(), testJob)
	if err == nil || !strings.Contains(err.Error(), "clone failed") || !strings.Contains(err.Error(), "db down") {
		t.Errorf("Expected both failures in error, got %v", err)
	}
	assertWorkspaceRemoved(t, f)
}

func TestOrchestrator_CancelledContextStillWritesStatus(t *testing.T) {
	var statusCtxErr error
	st := &MockStore{
		UpdateStatusFunc: func(ctx context.Context, id string, status models.Status) error {
			statusCtxErr = ctx.Err()
			return nil
		},
	}
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, ctx.Err()
		},
	}
	f := &MockFetcher{Files: map[string]string{"a.go": "package a"}}
	o := newTestOrchestrator(t, client, st, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, _ := o.Run(ctx, testJob)
	if status != models.StatusFailed {
		t.Errorf("Expected failed, got %s", status)
	}
	if statusCtxErr != nil {
		t.Errorf("Expected status write with live context, got %v", statusCtxErr)
	}
}

func TestNew_RejectsInvalidChunking(t *testing.T) {
	opts := DefaultOptions()
	opts.Overlap = opts.ChunkSize
	st := &MockStore{}
	if _, err := New(&MockAIClient{}, st, st, &MockFetcher{}, opts); !errors.Is(err, chunk.ErrInvalidOverlap) {
		t.Errorf("Expected ErrInvalidOverlap, got %v", err)
	}
}

func TestWorkspacePattern(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"abc-123", "repochat-abc-123-*"},
		{"../../etc", "repochat-______etc-*"},
		{"a/b c", "repochat-a_b_c-*"},
	}
	for _, tt := range tests {
		if got := workspacePattern(tt.in); got != tt.expected {
			t.Errorf("workspacePattern(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize([]byte("ok\x00\xffend")); got != "ok\uFFFDend" {
		t.Errorf("Unexpected sanitized text %q", got)
	}
}

func TestJobMachine_Transitions(t *testing.T) {
	m := newJobMachine(zerolog.Nop())
	for _, ev := range []string{evClone, evEnumerate, evProcess, evFinalize, evComplete} {
		m.fire(ev)
	}
	if m.current() != StateCompleted {
		t.Errorf("Expected completed, got %s", m.current())
	}

	m = newJobMachine(zerolog.Nop())
	m.fire(evClone)
	m.fire(evFail)
	if m.current() != StateFailed {
		t.Errorf("Expected failed, got %s", m.current())
	}
	// Terminal states do not move.
	m.fire(evClone)
	if m.current() != StateFailed {
		t.Errorf("Expected failed to be terminal, got %s", m.current())
	}
}
