package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Passage is one ranked excerpt returned by a similarity search
type Passage struct {
	DocumentID string
	Text       string
	Score      float64
}

// DocumentIndex is the external similarity-search collaborator. The
// pipeline only reads from it; raw document content never leaves this
// process except as a bounded, summarized excerpt.
type DocumentIndex interface {
	Search(ctx context.Context, scenarioID, query string, k int) ([]Passage, error)
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// MemoryIndex is a term-overlap index over scenario-scoped documents,
// used in development and tests in place of an external vector store.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string][]indexedDoc
}

type indexedDoc struct {
	id    string
	text  string
	terms map[string]bool
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string][]indexedDoc)}
}

// Add registers a document under a scenario
func (m *MemoryIndex) Add(scenarioID, documentID, text string) {
	terms := make(map[string]bool)
	for _, t := range tokenize(text) {
		terms[t] = true
	}
	m.mu.Lock()
	m.docs[scenarioID] = append(m.docs[scenarioID], indexedDoc{id: documentID, text: text, terms: terms})
	m.mu.Unlock()
}

// Search ranks documents by the fraction of query terms they contain
func (m *MemoryIndex) Search(_ context.Context, scenarioID, query string, k int) ([]Passage, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	docs := m.docs[scenarioID]
	m.mu.RUnlock()

	var out []Passage
	for _, doc := range docs {
		matched := 0
		for _, t := range queryTerms {
			if doc.terms[t] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, Passage{
			DocumentID: doc.id,
			Text:       doc.text,
			Score:      float64(matched) / float64(len(queryTerms)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
