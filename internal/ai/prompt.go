package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

//go:embed transcript.tmpl
var transcriptTemplate string

//go:embed system_prompt.md
var systemPrompt string

var transcript = template.Must(template.New("transcript").Parse(transcriptTemplate))

// Role identifies the speaker of a history entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history
type Message struct {
	Role    Role
	Content string
}

// SystemPrompt returns the system prompt for the assistant
func SystemPrompt() string {
	return systemPrompt
}

// BuildPrompt renders the history followed by the question, each entry as "<role>: <content>" followed by a blank line
func BuildPrompt(question string, history []Message) (string, error) {
	data := struct {
		History  []Message
		Question string
	}{
		History:  history,
		Question: question,
	}

	var buf bytes.Buffer
	if err := transcript.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute transcript template: %w", err)
	}
	return buf.String(), nil
}
