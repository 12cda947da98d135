package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemInstruction is the non-negotiable layer enforcing strict JSON
// output; it is never overridden by a publisher's custom instruction.
const systemInstruction = `You are a content analysis assistant. You MUST respond with a single
valid JSON object and nothing else: no prose, no Markdown fences, no
explanation before or after the JSON.`

const defaultSummaryInstruction = `Summarize the article faithfully and concisely, preserving its key
claims. Do not invent facts not present in the source text.`

const defaultQuestionsInstruction = `Generate reader-relevant questions and answers that a curious reader of
this article would want answered, grounded strictly in its content.`

const summarySchema = `{
  "title": "string",
  "summary": "string",
  "key_points": ["string", "..."]
}`

const questionsSchema = `{
  "questions": [
    {
      "question": "string",
      "answer": "string",
      "keyword_anchor": "string (optional)",
      "probability": "number between 0 and 1 (optional)"
    }
  ]
}`

// BuildSummaryPrompt assembles the three-layer summary prompt: system
// instruction, publisher customization (or the default), and an explicit
// JSON schema block.
func BuildSummaryPrompt(content, customInstruction string) (system, user string) {
	instruction := customInstruction
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultSummaryInstruction
	}
	user = fmt.Sprintf("%s\n\nArticle:\n%s\n\nRespond with JSON matching this schema:\n%s",
		instruction, content, summarySchema)
	return systemInstruction, user
}

// BuildQuestionsPrompt assembles the three-layer questions prompt.
func BuildQuestionsPrompt(content, customInstruction string, questionsPerBlog int) (system, user string) {
	instruction := customInstruction
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultQuestionsInstruction
	}
	user = fmt.Sprintf("%s\n\nGenerate up to %d questions.\n\nArticle:\n%s\n\nRespond with JSON matching this schema:\n%s",
		instruction, questionsPerBlog, content, questionsSchema)
	return systemInstruction, user
}

// SummaryResponse is the parsed shape of a summary call's JSON body.
type SummaryResponse struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// QuestionResponse is one entry of a questions call's JSON body.
type QuestionResponse struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	KeywordAnchor string   `json:"keyword_anchor"`
	Probability   *float64 `json:"probability"`
}

// QuestionsResponse is the parsed shape of a questions call's JSON body.
type QuestionsResponse struct {
	Questions []QuestionResponse `json:"questions"`
}

// StripCodeFence removes a surrounding Markdown code fence, with or
// without a language tag, before JSON parsing.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseSummaryResponse strips any code fence and parses the summary JSON.
func ParseSummaryResponse(raw string) (*SummaryResponse, error) {
	var resp SummaryResponse
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &resp); err != nil {
		return nil, fmt.Errorf("llm: parse summary response: %w", err)
	}
	return &resp, nil
}

// ParseQuestionsResponse strips any code fence, parses the questions JSON,
// and filters out entries with a missing/empty/whitespace-only question
// or answer. Returns ErrNoQuestions if nothing survives.
func ParseQuestionsResponse(raw string) ([]QuestionResponse, error) {
	var resp QuestionsResponse
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &resp); err != nil {
		return nil, fmt.Errorf("llm: parse questions response: %w", err)
	}

	var filtered []QuestionResponse
	for _, q := range resp.Questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
			continue
		}
		filtered = append(filtered, q)
	}

	if len(filtered) == 0 {
		return nil, ErrNoQuestions
	}
	return filtered, nil
}
