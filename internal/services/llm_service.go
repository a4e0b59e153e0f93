package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

const (
	defaultLLMModel = "gemini-2.5-flash"
	maxPromptBody   = 20000
)

// StageDecision is the classifier's reading of one recruiter email.
type StageDecision struct {
	Stage   timeline.Stage
	Change  bool
	Summary string
}

type LLMService struct {
	Client llms.Model
}

// NewLLMService initializes the Gemini client.
func NewLLMService(ctx context.Context, apiKey, model string) (*LLMService, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm api key is empty")
	}
	if model == "" {
		model = defaultLLMModel
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &LLMService{Client: llm}, nil
}

const stageClassificationPrompt = `
You are a recruiting assistant. A recruiter's mailbox received the email below about the applicant "%s".
The applicant's current stage is "%s".

### INSTRUCTIONS:
1. Decide whether the email moves the applicant to a new stage of the hiring pipeline.
2. The only valid stages are: applied, shortlisted, interviewed, offered, rejected.
3. If the email does not clearly move the applicant, answer NO_CHANGE.
4. Format the output as valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{
    "status": "one of the valid stages, or NO_CHANGE",
    "summary": "One sentence a recruiter would keep as remarks on the stage change"
}

### EMAIL SUBJECT:
%s

### EMAIL BODY:
%s
`

// ClassifyStageEmail asks the model which stage, if any, the email implies.
func (s *LLMService) ClassifyStageEmail(ctx context.Context, applicant string, current timeline.Stage, subject, body string) (StageDecision, error) {
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	if current == "" {
		current = "unknown"
	}
	prompt := fmt.Sprintf(stageClassificationPrompt, applicant, current, subject, body)
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, prompt)
	if err != nil {
		return StageDecision{}, err
	}
	return parseStageDecision(resp)
}

const jobPickPrompt = `
An applicant applied to several jobs. Which job is this email about?

### JOBS:
%s
### EMAIL SUBJECT:
%s

### EMAIL BODY:
%s

Answer with the number of the job only. Answer 0 if you cannot tell.
`

// PickJob returns the index into titles the email refers to, or -1.
func (s *LLMService) PickJob(ctx context.Context, titles []string, subject, body string) int {
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	var list strings.Builder
	for i, title := range titles {
		fmt.Fprintf(&list, "%d. %s\n", i+1, title)
	}
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, fmt.Sprintf(jobPickPrompt, list.String(), subject, body))
	if err != nil {
		return -1
	}
	return parseJobPick(resp, len(titles))
}

// parseStageDecision reads the model's JSON answer. Models sometimes wrap it
// in a markdown fence despite the instructions.
func parseStageDecision(raw string) (StageDecision, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var result struct {
		Status  string `json:"status"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &result); err != nil {
		return StageDecision{}, fmt.Errorf("parse classifier answer: %w", err)
	}

	decision := StageDecision{Summary: strings.TrimSpace(result.Summary)}
	switch strings.ToUpper(strings.TrimSpace(result.Status)) {
	case "", "NO_CHANGE", "UNKNOWN":
		return decision, nil
	}
	stage := timeline.ParseStage(result.Status)
	if !stage.Known() {
		return decision, fmt.Errorf("classifier answered unknown stage %q", result.Status)
	}
	decision.Stage = stage
	decision.Change = true
	return decision, nil
}

func parseJobPick(raw string, n int) int {
	pick, err := strconv.Atoi(strings.Trim(strings.TrimSpace(raw), ".`"))
	if err != nil || pick < 1 || pick > n {
		return -1
	}
	return pick - 1
}
