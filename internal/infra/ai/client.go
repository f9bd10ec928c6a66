package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

var categories = []string{
	"science", "technology", "mathematics", "history", "geography",
	"literature", "pop_culture", "sports", "nature", "general_knowledge",
}

var difficultyDescriptors = map[int]string{
	1:  "very easy, suitable for a young child",
	2:  "easy, basic common knowledge",
	3:  "easy-medium, elementary school level",
	4:  "medium, middle school level",
	5:  "medium, high school level",
	6:  "medium-hard, requires good general knowledge",
	7:  "hard, requires specific domain knowledge",
	8:  "hard, college-level knowledge",
	9:  "very hard, expert-level knowledge required",
	10: "extremely hard, PhD-level or obscure knowledge",
}

// Config selects the model endpoint. BaseURL is optional and points the client
// at any OpenAI-compatible server.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client generates questions, feedback and explanations through a chat
// completion model. It implements app.FeedbackGenerator and app.QuestionGenerator.
type Client struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai api key not configured")
	}
	if log == nil {
		log = logger.Nop()
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
		log.Warn("ai model not set, using default", "model", model)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	log.Info("initializing ai client", "model", model)
	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    log,
	}, nil
}

type generatedQuestion struct {
	Prompt       string   `json:"prompt"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correctIndex"`
	Category     string   `json:"category"`
}

// GenerateQuestion asks the model for one four-choice question. An empty
// category picks one at random.
func (c *Client) GenerateQuestion(ctx context.Context, difficulty int, category string) (domain.Question, error) {
	if category == "" {
		category = categories[rand.Intn(len(categories))]
	}
	desc, ok := difficultyDescriptors[difficulty]
	if !ok {
		desc = fmt.Sprintf("difficulty level %d out of 10", difficulty)
	}
	prompt := fmt.Sprintf(`Generate a single quiz question with the following requirements:
- Category: %s
- Difficulty: %s
- The question must have EXACTLY 4 answer choices
- Exactly one answer must be correct
- The wrong answers should be plausible but clearly incorrect to someone who knows the answer
- Do NOT include "All of the above" or "None of the above" as choices

Respond ONLY with valid JSON in this exact format, no markdown, no extra text:
{"prompt": "Your question here?", "choices": ["A", "B", "C", "D"], "correctIndex": 0, "category": "%s"}

Where correctIndex is the 0-based index of the correct answer.`, category, desc, category)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		return domain.Question{}, err
	}
	var parsed generatedQuestion
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return domain.Question{}, fmt.Errorf("parse generated question: %w", err)
	}
	if parsed.Prompt == "" || len(parsed.Choices) != 4 || parsed.CorrectIndex < 0 || parsed.CorrectIndex > 3 {
		return domain.Question{}, fmt.Errorf("invalid generated question: %d choices, correct index %d", len(parsed.Choices), parsed.CorrectIndex)
	}
	if parsed.Category == "" {
		parsed.Category = category
	}
	return domain.Question{
		ID:           "ai-" + uuid.NewString(),
		Difficulty:   difficulty,
		Prompt:       parsed.Prompt,
		Choices:      parsed.Choices,
		CorrectIndex: parsed.CorrectIndex,
		Category:     parsed.Category,
		AIGenerated:  true,
	}, nil
}

// Feedback returns a one-line reaction to the answer.
func (c *Client) Feedback(ctx context.Context, correct bool, streak, difficulty int, prompt string) (string, error) {
	situation := fmt.Sprintf("The user just answered a difficulty %d question INCORRECTLY. Their streak was reset to 0.", difficulty)
	if correct {
		situation = fmt.Sprintf("The user just answered a difficulty %d question CORRECTLY. Their current streak is %d.", difficulty, streak)
	}
	tone := "gentle and encouraging"
	switch {
	case streak >= 5:
		tone = "super enthusiastic and motivating"
	case streak >= 3:
		tone = "encouraging and positive"
	case correct:
		tone = "friendly and supportive"
	}
	text, err := c.complete(ctx, fmt.Sprintf(`%s
The question was: %s
Generate a SHORT (max 15 words) %s feedback message.
If correct, congratulate and mention the streak when it is 3 or more. If incorrect, be supportive.
Use at most 2 emojis. Avoid generic phrases.
Respond with ONLY the feedback message, no quotes, no extra text.`, situation, prompt, tone))
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(text), `"'`), nil
}

// Explanation explains why correctChoice is right and userChoice is wrong.
func (c *Client) Explanation(ctx context.Context, prompt, correctChoice, userChoice string) (string, error) {
	text, err := c.complete(ctx, fmt.Sprintf(`Question: %s
Correct Answer: %s
User's Answer: %s

Provide a brief (2-3 sentences) explanation of why "%s" is correct and why "%s" is wrong.
Be concise, educational, and friendly. Add a fun fact if relevant.
Respond with ONLY the explanation, no preamble.`, prompt, correctChoice, userChoice, correctChoice, userChoice))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	c.log.Debug("ai completion", "model", c.model)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You write content for an adaptive trivia quiz."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ai completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("ai completion returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
