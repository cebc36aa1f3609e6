package domain

// ModelParams holds scenario-specific model parameters
type ModelParams struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" validate:"gt=0"`
}

// Completion describes when a session satisfies the scenario
type Completion struct {
	MinExchanges     int      `yaml:"min_exchanges" json:"min_exchanges" validate:"gt=0"`
	RequiredKeywords []string `yaml:"required_keywords" json:"required_keywords"`
}

// ScenarioConfig is the validated, read-only description of one training
// scenario. Loaded and checked at startup; pipeline code never branches
// on absent fields.
type ScenarioConfig struct {
	ID               string      `yaml:"id" json:"id" validate:"required"`
	Title            string      `yaml:"title" json:"title" validate:"required"`
	Instruction      string      `yaml:"instruction" json:"instruction" validate:"required"`
	ExpectedKeywords []string    `yaml:"expected_keywords" json:"expected_keywords" validate:"required,min=1"`
	Documents        []string    `yaml:"documents" json:"documents"`
	Model            ModelParams `yaml:"model" json:"model" validate:"required"`
	Completion       Completion  `yaml:"completion" json:"completion" validate:"required"`
}
