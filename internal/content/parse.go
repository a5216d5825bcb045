package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
)

type completion struct {
	Choices []struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	} `json:"choices"`
}

// taskJSON accepts either "options" or "choices" for the answer list.
type taskJSON struct {
	Prompt       *string  `json:"prompt"`
	Options      []string `json:"options"`
	Choices      []string `json:"choices"`
	CorrectIndex *int     `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// ParseCompletion extracts a validated task from a raw chat completions response.
func ParseCompletion(raw []byte) (domain.GeneratedTask, error) {
	var resp completion
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.GeneratedTask{}, fmt.Errorf("%w: response is not JSON: %v", ErrMalformed, err)
	}
	if len(resp.Choices) == 0 {
		return domain.GeneratedTask{}, fmt.Errorf("%w: no choices", ErrMalformed)
	}

	first := resp.Choices[0]
	var text string
	switch {
	case first.Message != nil && len(first.Message.Content) > 0 && string(first.Message.Content) != "null":
		text = contentText(first.Message.Content)
	case first.Text != nil:
		text = *first.Text
	default:
		return domain.GeneratedTask{}, fmt.Errorf("%w: no message content", ErrMalformed)
	}
	return ParseTask(text)
}

// contentText flattens message content that may be a string, an array of parts
// or a single part object.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		if len(parts) == 0 {
			return ""
		}
		return partText(parts[0])
	}
	return partText(raw)
}

func partText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var part struct {
		Text    *string `json:"text"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(raw, &part); err == nil {
		if part.Text != nil {
			return *part.Text
		}
		if part.Content != nil {
			return *part.Content
		}
	}
	return string(raw)
}

// ParseTask decodes the model's task JSON, tolerating prose around the object.
func ParseTask(text string) (domain.GeneratedTask, error) {
	if strings.TrimSpace(text) == "" {
		return domain.GeneratedTask{}, fmt.Errorf("%w: empty content", ErrMalformed)
	}
	var tj taskJSON
	if err := json.Unmarshal([]byte(text), &tj); err != nil {
		if err := json.Unmarshal([]byte(jsonSubstring(text)), &tj); err != nil {
			return domain.GeneratedTask{}, fmt.Errorf("%w: content is not a task object: %v", ErrMalformed, err)
		}
	}

	options := tj.Options
	if tj.Choices != nil {
		options = tj.Choices
	}
	if tj.Prompt == nil || tj.CorrectIndex == nil || options == nil {
		return domain.GeneratedTask{}, fmt.Errorf("%w: missing prompt, correctIndex or options", ErrMalformed)
	}

	task := domain.GeneratedTask{
		Prompt:       *tj.Prompt,
		Options:      options,
		CorrectIndex: *tj.CorrectIndex,
		Explanation:  tj.Explanation,
	}
	if err := task.Validate(); err != nil {
		return domain.GeneratedTask{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return task, nil
}

func jsonSubstring(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
