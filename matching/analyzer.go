package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/myjobmatch/matchengine/models"
)

// LLM is the subset of gemini.Client the Analyzer depends on.
type LLM interface {
	AnalyzeMatch(ctx context.Context, profile models.CVProfile, job models.Job, skillOverlap string) (score int, reasoning string, alignments, gaps []string, err error)
}

// LLMAnalyzer wraps the raw LLM call with a pre-computation step: skill
// overlap is derived in Go before the prompt is built, so the model
// reasons from a grounded summary instead of re-deriving it.
type LLMAnalyzer struct {
	llm LLM
}

func NewLLMAnalyzer(llm LLM) *LLMAnalyzer {
	return &LLMAnalyzer{llm: llm}
}

// SkillOverlap is the pre-computed structured summary fed to the LLM prompt.
type SkillOverlap struct {
	SkillMatchPct        float64
	MatchingSkills       []string
	MissingSkills        []string
	ExtraSkills          []string
	IndustryMatch        bool
	ExperienceComparison string
}

const maxSkillsListed = 20

// ComputeSkillOverlap derives the overlap summary the Analyzer prompt is
// grounded on.
func ComputeSkillOverlap(profile models.CVProfile, job models.Job) SkillOverlap {
	userSkills := normalizeSet(profile.Skills)
	jobSkills := normalizeSet(job.KeySkills)

	var matching, missing, extra []string
	for skill := range jobSkills {
		if userSkills[skill] {
			matching = append(matching, skill)
		} else {
			missing = append(missing, skill)
		}
	}
	for skill := range userSkills {
		if !jobSkills[skill] {
			extra = append(extra, skill)
		}
	}

	denom := len(jobSkills)
	if denom == 0 {
		denom = 1
	}
	pct := float64(len(matching)) / float64(denom)

	industryMatch := false
	for _, taxonomy := range job.Taxonomies {
		if profile.Titles.Has(taxonomy) {
			industryMatch = true
			break
		}
	}

	requiredBand := "unknown"
	if job.ExperienceLevel != nil {
		requiredBand = string(*job.ExperienceLevel)
	}

	return SkillOverlap{
		SkillMatchPct:        pct,
		MatchingSkills:       capList(matching, maxSkillsListed),
		MissingSkills:        capList(missing, maxSkillsListed),
		ExtraSkills:          capList(extra, maxSkillsListed),
		IndustryMatch:        industryMatch,
		ExperienceComparison: fmt.Sprintf("user %dy vs required %s", profile.YearsExperience, requiredBand),
	}
}

func (o SkillOverlap) String() string {
	return fmt.Sprintf(
		"skill_match_pct=%.2f matching=%s missing=%s extra=%s industry_match=%v experience=%s",
		o.SkillMatchPct,
		strings.Join(o.MatchingSkills, ","),
		strings.Join(o.MissingSkills, ","),
		strings.Join(o.ExtraSkills, ","),
		o.IndustryMatch,
		o.ExperienceComparison,
	)
}

func normalizeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return out
}

func capList(items []string, max int) []string {
	if len(items) <= max {
		return items
	}
	return items[:max]
}

// AnalysisOutcome is the Analyzer's result for one (user, job) pair,
// already classified into a priority band.
type AnalysisOutcome struct {
	Score      int
	Reasoning  string
	Alignments []string
	Gaps       []string
	Priority   models.Priority
	Available  bool
}

// Analyze runs the LLM stage for one (profile, job) pair. On unrecoverable
// failure (after gemini.Client's own repair pass), it returns an
// unavailable outcome rather than an error: claude_score stays null with
// reasoning "analysis unavailable", and the caller keeps semantic_score.
func (a *LLMAnalyzer) Analyze(ctx context.Context, profile models.CVProfile, job models.Job) AnalysisOutcome {
	overlap := ComputeSkillOverlap(profile, job)

	score, reasoning, alignments, gaps, err := a.llm.AnalyzeMatch(ctx, profile, job, overlap.String())
	if err != nil {
		return AnalysisOutcome{Available: false, Reasoning: "analysis unavailable"}
	}

	return AnalysisOutcome{
		Score:      score,
		Reasoning:  truncateReasoning(reasoning, 400),
		Alignments: capList(alignments, 5),
		Gaps:       capList(gaps, 5),
		Priority:   models.PriorityFromScore(score),
		Available:  true,
	}
}

func truncateReasoning(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
