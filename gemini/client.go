// Package gemini wraps the Vertex AI Gemini client, adapted from the
// teacher's CV-parsing/job-scoring client into the Enricher, Embedder and
// LLM Analyzer prompts the matching engine needs. The
// prompt/generate/extract-text/clean-JSON idiom is kept verbatim; only
// the prompts and the structs they parse into have changed domain.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/myjobmatch/matchengine/config"
	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
)

var log = logging.Component("gemini")

// Client wraps the Vertex AI Gemini client for both generative and
// embedding calls.
type Client struct {
	client         *genai.Client
	model          *genai.GenerativeModel
	embeddingModel *genai.EmbeddingModel
	embedDim       int
}

// NewClient creates a new Gemini client configured for JSON-shaped,
// low-temperature output (the teacher's same SetTemperature/SetTopP
// rationale: consistent, parseable responses over creative ones).
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.GeminiModel)
	model.SetTemperature(0.2)
	model.SetTopP(0.8)
	model.SetMaxOutputTokens(4096)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: client.EmbeddingModel(cfg.EmbedModel),
		embedDim:       cfg.EmbedDim,
	}, nil
}

// Close closes the underlying Vertex AI client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Embed maps a string to a fixed-length vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embeddingModel.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errs.LLMUnavailable("embedder", err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, errs.LLMUnavailable("embedder", fmt.Errorf("empty embedding response"))
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch embeds each text, stopping at the first hard failure; the
// caller decides whether to retry the whole batch or skip affected jobs.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// enrichmentResult is the JSON shape the Enricher prompt produces.
type enrichmentResult struct {
	KeySkills            []string `json:"ai_key_skills"`
	Keywords             []string `json:"ai_keywords"`
	Taxonomies           []string `json:"ai_taxonomies"`
	WorkArrangement      string   `json:"ai_work_arrangement"`
	ExperienceLevel      string   `json:"ai_experience_level"`
	EmploymentType       []string `json:"ai_employment_type"`
	CoreResponsibilities string   `json:"ai_core_responsibilities"`
	RequirementsSummary  string   `json:"ai_requirements_summary"`
	Benefits             []string `json:"ai_benefits"`
	SalaryMin            *int     `json:"ai_salary_min"`
	SalaryMax            *int     `json:"ai_salary_max"`
	SalaryCurrency       string   `json:"ai_salary_currency"`
	SemanticSummary      string   `json:"semantic_summary"`
}

const enrichPromptTemplate = `Analyze this job posting and extract structured metadata.
Return a JSON object with exactly these fields:

{
  "ai_key_skills": ["skill1", "skill2"],
  "ai_keywords": ["keyword1", "keyword2"],
  "ai_taxonomies": ["industry or functional label"],
  "ai_work_arrangement": "onsite|hybrid|remote",
  "ai_experience_level": "0-2|2-5|5-10|10+",
  "ai_employment_type": ["full_time"],
  "ai_core_responsibilities": "1-2 sentence summary",
  "ai_requirements_summary": "1-2 sentence summary",
  "ai_benefits": ["benefit1"],
  "ai_salary_min": null,
  "ai_salary_max": null,
  "ai_salary_currency": "",
  "semantic_summary": "dense paragraph capturing role, seniority, domain and skills, suitable for embedding"
}

JOB TITLE: %s
COMPANY: %s
LOCATION: %s
DESCRIPTION:
%s

Return ONLY the JSON object, no markdown formatting, no explanation.`

// EnrichJob derives AI metadata for a job lacking it. It does not check
// whether the job is already enriched; Enricher.EnrichOne skips enriched
// jobs, so their stored metadata is not replaced.
func (c *Client) EnrichJob(ctx context.Context, job models.Job) (models.AIMetadata, error) {
	prompt := fmt.Sprintf(enrichPromptTemplate, job.Title, job.Company, job.Location, truncate(job.Description, 8000))

	result, err := c.generateEnrichment(ctx, prompt)
	if err != nil {
		// One repair pass: ask again with an explicit correction hint,
		// then give up.
		log.Warn().Str("job_id", fmt.Sprint(job.JobID)).Err(err).Msg("enrichment parse failed, retrying once")
		result, err = c.generateEnrichment(ctx, prompt+"\n\nYour previous response could not be parsed as JSON. Return ONLY valid JSON this time.")
		if err != nil {
			return models.AIMetadata{}, errs.LLMUnavailable("enricher", err)
		}
	}

	now := time.Now()
	meta := models.AIMetadata{
		KeySkills:            models.StringSet(result.KeySkills),
		Keywords:             models.StringSet(result.Keywords),
		Taxonomies:           models.StringSet(result.Taxonomies),
		EmploymentType:       models.StringSet(result.EmploymentType),
		CoreResponsibilities: result.CoreResponsibilities,
		RequirementsSummary:  result.RequirementsSummary,
		Benefits:             models.StringSet(result.Benefits),
		SalaryMin:            result.SalaryMin,
		SalaryMax:            result.SalaryMax,
		SalaryCurrency:       result.SalaryCurrency,
		SemanticSummary:      result.SemanticSummary,
		EnrichedAt:           &now,
	}
	if result.WorkArrangement != "" {
		w := models.WorkArrangement(result.WorkArrangement)
		meta.WorkArrangement = &w
	}
	if result.ExperienceLevel != "" {
		e := models.ExperienceLevel(result.ExperienceLevel)
		meta.ExperienceLevel = &e
	}
	return meta, nil
}

func (c *Client) generateEnrichment(ctx context.Context, prompt string) (enrichmentResult, error) {
	var result enrichmentResult
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return result, fmt.Errorf("generate content: %w", err)
	}
	text := cleanJSON(extractText(resp))
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return result, fmt.Errorf("parse enrichment JSON: %w", err)
	}
	return result, nil
}

// analysisResult is the JSON shape the LLM Analyzer prompt produces.
type analysisResult struct {
	Score         int      `json:"score"`
	Reasoning     string   `json:"reasoning"`
	KeyAlignments []string `json:"alignments"`
	PotentialGaps []string `json:"gaps"`
}

const analyzePromptTemplate = `Analyze how well this candidate matches this job opening. A skill-overlap
summary has already been computed to ground your reasoning.

CANDIDATE SUMMARY: %s
CANDIDATE SKILLS: %s

JOB TITLE: %s
JOB SUMMARY: %s
JOB REQUIRED SKILLS: %s

PRE-COMPUTED SKILL OVERLAP: %s

Return a JSON object:
{
  "score": 0-100,
  "reasoning": "2-3 sentences grounded in the overlap above",
  "alignments": ["short phrase", "short phrase"],
  "gaps": ["short phrase"]
}

Return ONLY the JSON object.`

// AnalyzeMatch produces the LLM-stage score for a (profile, job) pair,
// given a pre-computed skill-overlap summary.
func (c *Client) AnalyzeMatch(ctx context.Context, profile models.CVProfile, job models.Job, skillOverlap string) (score int, reasoning string, alignments, gaps []string, err error) {
	prompt := fmt.Sprintf(analyzePromptTemplate,
		profile.Summary, strings.Join(profile.Skills, ", "),
		job.Title, job.SemanticSummary, strings.Join(job.KeySkills, ", "),
		skillOverlap)

	resp, genErr := c.model.GenerateContent(ctx, genai.Text(prompt))
	if genErr != nil {
		return 0, "", nil, nil, errs.LLMUnavailable("llm_analyzer", genErr)
	}
	text := cleanJSON(extractText(resp))

	var result analysisResult
	if parseErr := json.Unmarshal([]byte(text), &result); parseErr != nil {
		// Single repair attempt, matching the Enricher's contract.
		resp, genErr = c.model.GenerateContent(ctx, genai.Text(prompt+"\n\nReturn ONLY valid JSON this time."))
		if genErr != nil {
			return 0, "", nil, nil, errs.LLMUnavailable("llm_analyzer", genErr)
		}
		text = cleanJSON(extractText(resp))
		if parseErr := json.Unmarshal([]byte(text), &result); parseErr != nil {
			return 0, "", nil, nil, errs.LLMUnavailable("llm_analyzer", parseErr)
		}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	return result.Score, result.Reasoning, result.KeyAlignments, result.PotentialGaps, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func extractText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return sb.String()
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
