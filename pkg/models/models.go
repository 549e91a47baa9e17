package models

import "time"

// Status is the ingestion lifecycle state of a project.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Project struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repo_url"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentChunk is one embedded slice of a source file.
type DocumentChunk struct {
	ProjectID string    `json:"project_id"`
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Match is a stored chunk returned by a similarity search.
type Match struct {
	FilePath   string  `json:"file_path"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
