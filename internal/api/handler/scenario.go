package handler

import (
	"net/http"

	"github.com/chattrain/chattrain/internal/api/response"
	"github.com/chattrain/chattrain/internal/scenario"
)

// ScenarioHandler serves the scenario catalogue
type ScenarioHandler struct {
	store *scenario.Store
}

// NewScenarioHandler creates a scenario handler
func NewScenarioHandler(store *scenario.Store) *ScenarioHandler {
	return &ScenarioHandler{store: store}
}

type scenarioSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MinExchanges int    `json:"min_exchanges"`
}

// List returns every loaded scenario. Instructions and expected
// keywords stay server-side; trainees only see what they need to pick.
func (h *ScenarioHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.store.List()
	out := make([]scenarioSummary, 0, len(all))
	for _, s := range all {
		out = append(out, scenarioSummary{
			ID:           s.ID,
			Title:        s.Title,
			MinExchanges: s.Completion.MinExchanges,
		})
	}
	response.OK(w, out)
}
