package evaluation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/llm"
)

// Generator is the slice of the model gateway the judge path needs
type Generator interface {
	Generate(ctx context.Context, in llm.GenerateInput) (*llm.Reply, error)
}

// Engine scores trainee messages. The rule-based path is deterministic;
// the model-assisted judge is advisory and must never block progress.
type Engine struct {
	judge        Generator
	judgeEnabled bool
	quality      map[string][]string
}

// NewEngine creates an evaluation engine. A nil generator or
// judgeEnabled=false disables the model-assisted path.
func NewEngine(judge Generator, judgeEnabled bool) *Engine {
	return &Engine{
		judge:        judge,
		judgeEnabled: judgeEnabled && judge != nil,
		quality: map[string][]string{
			"politeness": {"please", "thank you", "sorry", "apologize", "appreciate"},
			"empathy":    {"understand", "hear you", "frustrating", "concern", "help"},
			"clarity":    {"explain", "clarify", "specifically", "detail", "step"},
			"solution":   {"resolve", "fix", "solution", "assist", "support", "troubleshoot"},
		},
	}
}

const (
	baseScore       = 70
	keywordMaxBonus = 20
	qualityMaxBonus = 10
)

// Evaluate scores the sanitized trainee text against the scenario's
// expected keywords and quality indicators, then attaches judge notes
// when the model-assisted path is enabled and succeeds.
func (e *Engine) Evaluate(ctx context.Context, userText string, scenario *domain.ScenarioConfig) domain.EvaluationResult {
	normalized := strings.ToLower(userText)

	matched, missing := matchKeywords(normalized, scenario.ExpectedKeywords)

	keywordRatio := 0.0
	if len(scenario.ExpectedKeywords) > 0 {
		keywordRatio = float64(len(matched)) / float64(len(scenario.ExpectedKeywords))
	}

	qualitySum := 0.0
	for _, indicators := range e.quality {
		found := 0
		for _, ind := range indicators {
			if containsWord(normalized, ind) {
				found++
			}
		}
		qualitySum += float64(found) / float64(len(indicators))
	}

	score := baseScore +
		int(keywordRatio*keywordMaxBonus) +
		int(qualitySum/float64(len(e.quality))*qualityMaxBonus)
	if score > 100 {
		score = 100
	}

	result := domain.EvaluationResult{
		Score:       score,
		Matched:     matched,
		Missing:     missing,
		Comments:    comments(score, matched, keywordRatio),
		Suggestions: suggestions(missing, keywordRatio),
	}

	if e.judgeEnabled {
		if notes, err := e.runJudge(ctx, userText, scenario); err != nil {
			// Best-effort only: degrade to rule-based output
			log.Warn().Err(err).Str("scenario_id", scenario.ID).Msg("model-assisted judge unavailable")
		} else {
			result.Judge = notes
		}
	}

	return result
}

func matchKeywords(normalized string, keywords []string) (matched, missing []string) {
	for _, kw := range keywords {
		if containsWord(normalized, strings.ToLower(kw)) {
			matched = append(matched, kw)
		} else {
			missing = append(missing, kw)
		}
	}
	return matched, missing
}

// wordPatterns caches compiled word-boundary patterns; scenario
// keywords and quality indicators repeat on every turn.
var wordPatterns sync.Map

func wordPattern(word string) *regexp.Regexp {
	if cached, ok := wordPatterns.Load(word); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	actual, _ := wordPatterns.LoadOrStore(word, re)
	return actual.(*regexp.Regexp)
}

// containsWord matches on word boundaries to avoid partial hits
func containsWord(text, word string) bool {
	return wordPattern(word).MatchString(text)
}

func comments(score int, matched []string, keywordRatio float64) string {
	var parts []string

	switch {
	case score >= 90:
		parts = append(parts, "Excellent response! You demonstrated strong communication skills.")
	case score >= 80:
		parts = append(parts, "Good job! Your response was effective with room for minor improvements.")
	case score >= 75:
		parts = append(parts, "Decent response. You covered the basics but could enhance your communication.")
	default:
		parts = append(parts, "Your response needs improvement to meet professional standards.")
	}

	switch {
	case keywordRatio >= 0.8:
		parts = append(parts, "You used relevant terminology effectively.")
	case keywordRatio >= 0.5:
		shown := matched
		if len(shown) > 3 {
			shown = shown[:3]
		}
		parts = append(parts, fmt.Sprintf("You included some key concepts (%s).", strings.Join(shown, ", ")))
	default:
		parts = append(parts, "Consider using more specific terminology related to the issue.")
	}

	return strings.Join(parts, " ")
}

func suggestions(missing []string, keywordRatio float64) []string {
	var out []string
	if len(missing) > 0 {
		shown := missing
		if len(shown) > 3 {
			shown = shown[:3]
		}
		out = append(out, fmt.Sprintf("Try addressing: %s.", strings.Join(shown, ", ")))
	}
	if keywordRatio < 0.5 {
		out = append(out, "Review the scenario materials before responding.")
	}
	return out
}

const judgeInstruction = `You are a communication-skills coach reviewing one trainee message from a practice conversation. Reply with up to three lines starting with "STRENGTH:" and up to three lines starting with "IMPROVE:". Keep each line under 20 words. Do not write anything else.`

func (e *Engine) runJudge(ctx context.Context, userText string, scenario *domain.ScenarioConfig) (*domain.JudgeNotes, error) {
	reply, err := e.judge.Generate(ctx, llm.GenerateInput{
		Instruction: judgeInstruction,
		UserText:    fmt.Sprintf("Scenario: %s\nTrainee message: %s", scenario.Title, userText),
		Params:      scenario.Model,
	})
	if err != nil {
		return nil, err
	}

	notes := &domain.JudgeNotes{Model: reply.Model}
	for _, line := range strings.Split(reply.Text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "STRENGTH:"):
			notes.Strengths = append(notes.Strengths, strings.TrimSpace(strings.TrimPrefix(line, "STRENGTH:")))
		case strings.HasPrefix(line, "IMPROVE:"):
			notes.Improvements = append(notes.Improvements, strings.TrimSpace(strings.TrimPrefix(line, "IMPROVE:")))
		}
	}
	if len(notes.Strengths) == 0 && len(notes.Improvements) == 0 {
		return nil, fmt.Errorf("judge returned no usable critique")
	}
	return notes, nil
}
