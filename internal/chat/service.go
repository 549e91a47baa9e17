package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	DefaultMatchThreshold  = 0.5
	DefaultMatchCount      = 5
	DefaultMaxContextChars = 24000
)

// NoContextAnswer is returned when no stored chunk is similar enough to the
// question. The model is not called in that case.
const NoContextAnswer = "I couldn't find any relevant code in this project to answer your question."

const blockSeparator = "\n\n---\n\n"

const promptTemplate = `You are an expert software architect acting as an onboarding assistant.
Use the following code context to answer the user's question.

CONTEXT FROM CODEBASE:
%s

USER QUESTION:
%s

INSTRUCTIONS:
- Answer strictly based on the provided context.
- If the context doesn't contain the answer, say "I don't see that in the code provided."
- Use Markdown formatting for code blocks.
`

// ErrEmptyInput is returned when the project id or the question is blank.
var ErrEmptyInput = errors.New("projectId and question are required")

// Options tunes retrieval. Zero values select the defaults.
type Options struct {
	MatchThreshold  float64
	MatchCount      int
	MaxContextChars int
}

// Result is an answer and the files its context came from. Found is false
// when nothing relevant was retrieved.
type Result struct {
	Answer  string
	Sources []string
	Found   bool
}

type Service struct {
	Client  ai.Client
	Store   store.DocumentStore
	Options Options
}

// NewService creates a new chat service with the provided AI client and store
func NewService(client ai.Client, docs store.DocumentStore, opts Options) *Service {
	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.MatchCount <= 0 {
		opts.MatchCount = DefaultMatchCount
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	return &Service{Client: client, Store: docs, Options: opts}
}

// Answer retrieves the chunks of projectID most similar to question and asks
// the model to answer from them.
func (s *Service) Answer(ctx context.Context, projectID, question string) (Result, error) {
	start := time.Now()
	projectID = strings.TrimSpace(projectID)
	question = strings.TrimSpace(question)
	if projectID == "" || question == "" {
		return Result{}, ErrEmptyInput
	}

	vec, err := s.Client.Embed(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}

	matches, err := s.Store.MatchDocuments(ctx, vec, s.Options.MatchThreshold, s.Options.MatchCount, projectID)
	if err != nil {
		return Result{}, fmt.Errorf("vector search failed: %w", err)
	}
	matches = rank(matches, s.Options.MatchThreshold, s.Options.MatchCount)

	logger := log.With().Str("project_id", projectID).Int("matches", len(matches)).Logger()
	if len(matches) == 0 {
		logger.Info().Dur("dur", time.Since(start)).Msg("no relevant context")
		return Result{Answer: NoContextAnswer}, nil
	}

	contextText, sources := buildContext(matches, s.Options.MaxContextChars)
	answer, err := s.Client.Generate(ctx, fmt.Sprintf(promptTemplate, contextText, question))
	if err != nil {
		return Result{}, fmt.Errorf("generate answer: %w", err)
	}

	logger.Info().Int("sources", len(sources)).Dur("dur", time.Since(start)).Msg("answered question")
	return Result{Answer: answer, Sources: sources, Found: true}, nil
}

// rank keeps matches strictly above threshold, most similar first, at most k.
func rank(matches []models.Match, threshold float64, k int) []models.Match {
	out := make([]models.Match, 0, len(matches))
	for _, m := range matches {
		if m.Similarity > threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// buildContext joins matches into the prompt context, stopping before the
// first block that would push it past maxChars. A lone first block that is
// too long is truncated instead.
func buildContext(matches []models.Match, maxChars int) (string, []string) {
	var b strings.Builder
	sources := make([]string, 0, len(matches))
	used := 0

	for i, m := range matches {
		block := fmt.Sprintf("File: %s\nCode:\n%s", m.FilePath, m.Content)
		cost := utf8.RuneCountInString(block)
		if i > 0 {
			cost += utf8.RuneCountInString(blockSeparator)
		}

		if used+cost > maxChars {
			if i > 0 {
				break
			}
			block = truncateRunes(block, maxChars)
			cost = maxChars
		}

		if i > 0 {
			b.WriteString(blockSeparator)
		}
		b.WriteString(block)
		used += cost
		sources = append(sources, m.FilePath)
	}
	return b.String(), sources
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
