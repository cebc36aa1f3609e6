package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/security"
)

// Cache fronts the search-and-summarize step. Implemented by the redis
// context cache; a nil cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Options bound what the retriever may emit
type Options struct {
	TopK         int
	TokenBudget  int
	MinRelevance float64
}

// DefaultOptions mirrors the documented retrieval policy
func DefaultOptions() Options {
	return Options{TopK: 3, TokenBudget: 100, MinRelevance: 0.1}
}

// Retriever selects and compresses reference excerpts for a turn.
// Only the summarized, masked excerpt ever crosses the boundary to the
// external model.
type Retriever struct {
	index  DocumentIndex
	masker *security.Masker
	cache  Cache
	opts   Options
}

// NewRetriever creates a retriever over the given index
func NewRetriever(index DocumentIndex, masker *security.Masker, cache Cache, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 100
	}
	return &Retriever{index: index, masker: masker, cache: cache, opts: opts}
}

// Retrieve returns a masked context excerpt within the token budget, or
// an empty string when nothing relevant is found. Source documents may
// themselves contain identifiers, so the compressed excerpt passes
// through the masking engine before it is returned.
func (r *Retriever) Retrieve(ctx context.Context, query, scenarioID string) (string, error) {
	if r.index == nil {
		return "", nil
	}

	key := cacheKey(scenarioID, query)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	passages, err := r.index.Search(ctx, scenarioID, query, r.opts.TopK)
	if err != nil {
		return "", fmt.Errorf("index search: %w", err)
	}

	relevant := passages[:0]
	for _, p := range passages {
		if p.Score >= r.opts.MinRelevance {
			relevant = append(relevant, p)
		}
	}
	if len(relevant) == 0 {
		// Empty context beats forcing irrelevant text into the prompt
		return "", nil
	}

	summary := summarize(relevant, query, r.opts.TokenBudget)
	if summary == "" {
		return "", nil
	}

	masked, redactions, err := r.masker.Mask(summary)
	if err != nil {
		return "", fmt.Errorf("mask retrieved context: %w", err)
	}
	if len(redactions) > 0 {
		log.Debug().
			Str("scenario_id", scenarioID).
			Int("redactions", len(redactions)).
			Msg("masked identifiers in retrieved context")
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, masked)
	}
	return masked, nil
}

func cacheKey(scenarioID, query string) string {
	sum := sha256.Sum256([]byte(query))
	return scenarioID + ":" + hex.EncodeToString(sum[:8])
}

// summarize extracts the sentences most related to the query, in their
// original order, until the token budget is spent. Tokens are
// whitespace-delimited words.
func summarize(passages []Passage, query string, budget int) string {
	queryTerms := make(map[string]bool)
	for _, t := range tokenize(query) {
		queryTerms[t] = true
	}

	var sentences []scored
	order := 0
	for _, p := range passages {
		for _, s := range splitSentences(p.Text) {
			words := len(strings.Fields(s))
			if words == 0 {
				continue
			}
			matched := 0
			for _, t := range tokenize(s) {
				if queryTerms[t] {
					matched++
				}
			}
			sentences = append(sentences, scored{
				order: order,
				text:  s,
				score: float64(matched)/float64(words) + p.Score,
				words: words,
			})
			order++
		}
	}

	// Pick best-scoring sentences first, then restore document order
	picked := make([]scored, len(sentences))
	copy(picked, sentences)
	sortByScore(picked)

	used := 0
	keep := make(map[int]bool)
	for _, s := range picked {
		if used+s.words > budget {
			continue
		}
		keep[s.order] = true
		used += s.words
	}

	var out []string
	for _, s := range sentences {
		if keep[s.order] {
			out = append(out, strings.TrimSpace(s.text))
		}
	}
	return strings.Join(out, " ")
}

type scored struct {
	order int
	text  string
	score float64
	words int
}

func sortByScore(s []scored) {
	sort.Slice(s, func(i, j int) bool { return s[i].score > s[j].score })
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
