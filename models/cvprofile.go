package models

// CVProfile is the read-only parsed-CV input the semantic matcher and LLM
// analyzer consume. CV parsing itself happens upstream of this module;
// a CVProfile arrives already parsed as part of a matching run request.
type CVProfile struct {
	UserID string `json:"user_id" validate:"required"`

	Summary          string    `json:"summary"`
	Skills           StringSet `json:"skills"`
	Titles           StringSet `json:"titles"`
	YearsExperience  int       `json:"years_experience"`
	PreferredCountry string    `json:"preferred_country"`
	PreferredWork    StringSet `json:"preferred_work_arrangement"`

	// EmbeddingText is the text the embedder vectorizes for semantic
	// filtering; callers may pass Summary verbatim or a richer synthesis.
	EmbeddingText string `json:"embedding_text" validate:"required"`
}
