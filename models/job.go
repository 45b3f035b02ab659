package models

import (
	"encoding/json"
	"time"
)

// StringSet is a set of strings that marshals as a JSON array but also
// accepts a single bare string from looser upstream payloads (the way the
// teacher's FlexibleStringSlice tolerated PSE/Gemini responses).
type StringSet []string

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "" {
			*s = []string{str}
		} else {
			*s = []string{}
		}
		return nil
	}

	*s = []string{}
	return nil
}

// Has reports whether v is present in the set (case-sensitive; callers
// normalize case before calling when that matters).
func (s StringSet) Has(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// WorkArrangement is one of onsite|hybrid|remote.
type WorkArrangement string

const (
	WorkArrangementOnsite WorkArrangement = "onsite"
	WorkArrangementHybrid WorkArrangement = "hybrid"
	WorkArrangementRemote WorkArrangement = "remote"
)

// ExperienceLevel is one of the four bands the Enricher assigns.
type ExperienceLevel string

const (
	ExperienceLevel0to2  ExperienceLevel = "0-2"
	ExperienceLevel2to5  ExperienceLevel = "2-5"
	ExperienceLevel5to10 ExperienceLevel = "5-10"
	ExperienceLevel10Up  ExperienceLevel = "10+"
)

// AIMetadata holds the fields the Enricher derives from an LLM call.
// Every field is optional/nullable until enrichment runs; a pointer or a
// nil/empty slice is "absent", never a sentinel string.
type AIMetadata struct {
	KeySkills            StringSet        `gorm:"serializer:json" json:"ai_key_skills,omitempty"`
	Keywords             StringSet        `gorm:"serializer:json" json:"ai_keywords,omitempty"`
	Taxonomies           StringSet        `gorm:"serializer:json" json:"ai_taxonomies,omitempty"`
	WorkArrangement      *WorkArrangement `json:"ai_work_arrangement,omitempty"`
	ExperienceLevel      *ExperienceLevel `json:"ai_experience_level,omitempty"`
	EmploymentType       StringSet        `gorm:"serializer:json" json:"ai_employment_type,omitempty"`
	CoreResponsibilities string           `json:"ai_core_responsibilities,omitempty"`
	RequirementsSummary  string           `json:"ai_requirements_summary,omitempty"`
	Benefits             StringSet        `gorm:"serializer:json" json:"ai_benefits,omitempty"`
	SalaryMin            *int             `json:"ai_salary_min,omitempty"`
	SalaryMax            *int             `json:"ai_salary_max,omitempty"`
	SalaryCurrency       string           `json:"ai_salary_currency,omitempty"`
	SemanticSummary      string           `json:"semantic_summary,omitempty"`

	// EnrichedAt is nil until the Enricher successfully populates the
	// fields above. EnrichFailedAt/EnrichCooldownEnd implement the 24h
	// cool-down after a second parse failure.
	EnrichedAt        *time.Time `json:"enriched_at,omitempty"`
	EnrichFailedAt    *time.Time `json:"-"`
	EnrichCooldownEnd *time.Time `json:"-"`
}

// IsEnriched reports whether the AI fields have been populated at least once.
func (m AIMetadata) IsEnriched() bool {
	return m.EnrichedAt != nil
}

// InCooldown reports whether the job should be skipped by the next tick's
// GetJobsMissingAI sweep because it failed enrichment recently.
func (m AIMetadata) InCooldown(now time.Time) bool {
	return m.EnrichCooldownEnd != nil && now.Before(*m.EnrichCooldownEnd)
}

// merge fills only the fields that are absent in m with values present in
// other, and never overwrites a present field with an absent one.
func (m AIMetadata) merge(other AIMetadata) AIMetadata {
	out := m
	if len(out.KeySkills) == 0 {
		out.KeySkills = other.KeySkills
	}
	if len(out.Keywords) == 0 {
		out.Keywords = other.Keywords
	}
	if len(out.Taxonomies) == 0 {
		out.Taxonomies = other.Taxonomies
	}
	if out.WorkArrangement == nil {
		out.WorkArrangement = other.WorkArrangement
	}
	if out.ExperienceLevel == nil {
		out.ExperienceLevel = other.ExperienceLevel
	}
	if len(out.EmploymentType) == 0 {
		out.EmploymentType = other.EmploymentType
	}
	if out.CoreResponsibilities == "" {
		out.CoreResponsibilities = other.CoreResponsibilities
	}
	if out.RequirementsSummary == "" {
		out.RequirementsSummary = other.RequirementsSummary
	}
	if len(out.Benefits) == 0 {
		out.Benefits = other.Benefits
	}
	if out.SalaryMin == nil {
		out.SalaryMin = other.SalaryMin
	}
	if out.SalaryMax == nil {
		out.SalaryMax = other.SalaryMax
	}
	if out.SalaryCurrency == "" {
		out.SalaryCurrency = other.SalaryCurrency
	}
	if out.SemanticSummary == "" {
		out.SemanticSummary = other.SemanticSummary
	}
	if out.EnrichedAt == nil {
		out.EnrichedAt = other.EnrichedAt
	}
	return out
}

// MergeAIMetadata is the exported form of merge, used by the store layer.
func MergeAIMetadata(existing, incoming AIMetadata) AIMetadata {
	return existing.merge(incoming)
}

// Job is the global, source-deduplicated job posting record.
type Job struct {
	JobID uint `gorm:"primaryKey" json:"job_id"`

	Source     string `gorm:"uniqueIndex:idx_source_external;not null" json:"source"`
	ExternalID string `gorm:"uniqueIndex:idx_source_external;not null" json:"external_id"`

	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	CountryCode string `json:"country_code"` // lowercase ISO-3166-1 alpha-2
	Description string `json:"description"`
	URL         string `json:"url"`

	PostedDate     time.Time `json:"posted_date"`
	DiscoveredDate time.Time `json:"discovered_date"`

	AIMetadata `gorm:"embedded"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Job) TableName() string { return "jobs" }

// RawJob is a source adapter's result before normalization into a Job.
type RawJob struct {
	ExternalID  string
	Title       string
	Company     string
	Location    string
	CountryCode string
	Description string
	URL         string
	PostedDate  time.Time
	Salary      string
	Raw         map[string]any
}
