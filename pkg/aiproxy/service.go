package aiproxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/careerforge/creditd/pkg/observability"
)

// Completer is the chat-completion dependency. The real implementation is
// the OpenAI client; tests substitute a canned one.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// OpenAICompleter calls the OpenAI chat API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates the production completer. An empty model
// defaults to GPT-4o.
func NewOpenAICompleter(apiKey, model string) *OpenAICompleter {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAICompleter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Service bundles the feature prompts around a Completer.
type Service struct {
	completer Completer
	logger    *observability.Logger
}

// NewService creates the AI feature service.
func NewService(completer Completer, logger *observability.Logger) *Service {
	return &Service{
		completer: completer,
		logger:    logger.WithComponent("aiproxy"),
	}
}

const resumeSystemPrompt = "You are an expert resume writer. Produce a polished, " +
	"ATS-friendly resume in Markdown from the candidate profile you are given. " +
	"Quantify achievements where the input allows and never invent employment history."

// GenerateResume produces a full resume from a candidate profile and the
// role they are targeting.
func (s *Service) GenerateResume(ctx context.Context, profile, targetRole string) (string, error) {
	user := fmt.Sprintf("Target role: %s\n\nCandidate profile:\n%s", targetRole, profile)
	return s.completer.Complete(ctx, resumeSystemPrompt, user, 2048)
}

const coverLetterSystemPrompt = "You are an expert career coach. Write a concise, " +
	"specific cover letter (under 350 words) connecting the candidate's experience " +
	"to the job description. Plain professional tone, no clichés."

// GenerateCoverLetter writes a cover letter for a specific job posting.
func (s *Service) GenerateCoverLetter(ctx context.Context, profile, jobDescription string) (string, error) {
	user := fmt.Sprintf("Job description:\n%s\n\nCandidate profile:\n%s", jobDescription, profile)
	return s.completer.Complete(ctx, coverLetterSystemPrompt, user, 1024)
}

const linkedinSystemPrompt = "You optimize LinkedIn profiles. Rewrite the headline " +
	"and about section for recruiter search visibility while staying truthful to the input."

// OptimizeLinkedIn rewrites a LinkedIn headline and summary.
func (s *Service) OptimizeLinkedIn(ctx context.Context, currentProfile string) (string, error) {
	return s.completer.Complete(ctx, linkedinSystemPrompt, currentProfile, 1024)
}

const suggestSystemPrompt = "You review resume fragments. Return up to five short, " +
	"actionable improvement suggestions as a Markdown list. No preamble."

// Suggest returns quick inline improvements for a resume fragment.
func (s *Service) Suggest(ctx context.Context, fragment string) (string, error) {
	return s.completer.Complete(ctx, suggestSystemPrompt, fragment, 512)
}

const careerPlanSystemPrompt = "You are a pragmatic career advisor. Given a current " +
	"position and a goal, lay out a realistic step-by-step plan with rough timelines."

// PlanCareer produces a career progression plan.
func (s *Service) PlanCareer(ctx context.Context, current, goal string) (string, error) {
	user := fmt.Sprintf("Current position:\n%s\n\nGoal:\n%s", current, goal)
	return s.completer.Complete(ctx, careerPlanSystemPrompt, user, 1536)
}

const salarySystemPrompt = "You are a salary negotiation coach. Given a role, " +
	"location and offer details, prepare talking points and a counter strategy."

// PrepareNegotiation produces salary negotiation preparation notes.
func (s *Service) PrepareNegotiation(ctx context.Context, offerDetails string) (string, error) {
	return s.completer.Complete(ctx, salarySystemPrompt, offerDetails, 1024)
}

// trimInput bounds prompt inputs; anything longer is almost certainly a
// paste accident and would burn tokens for nothing.
func trimInput(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}
