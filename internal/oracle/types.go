package oracle

import "github.com/alanyoungcy/betchannel/internal/domain"

// apiMarket mirrors the subset of the Manifold market payload this adapter
// consumes.
type apiMarket struct {
	ID                    string   `json:"id"`
	Question              string   `json:"question"`
	Probability           float64  `json:"probability"`
	Volume                float64  `json:"volume"`
	IsResolved            bool     `json:"isResolved"`
	Resolution            string   `json:"resolution"`
	ResolutionTime        int64    `json:"resolutionTime"`
	ResolutionProbability *float64 `json:"resolutionProbability"`
	URL                   string   `json:"url"`
}

func (m *apiMarket) toDomain() domain.Market {
	return domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Probability: m.Probability,
		Volume:      m.Volume,
		IsResolved:  m.IsResolved,
		Resolution:  m.Resolution,
		URL:         m.URL,
	}
}
