package domain

// JudgeNotes holds the advisory model-assisted critique. Absent whenever
// the judge call is disabled or fails; rule-based output stands alone.
type JudgeNotes struct {
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// EvaluationResult scores one trainee message. Produced once per turn,
// never mutated after creation.
type EvaluationResult struct {
	Score       int         `json:"score"` // 0-100
	Matched     []string    `json:"matched_keywords"`
	Missing     []string    `json:"missing_keywords"`
	Comments    string      `json:"comments"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Judge       *JudgeNotes `json:"judge,omitempty"`
}
