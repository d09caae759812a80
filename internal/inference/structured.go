package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spendsight/spendsight/internal/llm"
)

// Client forces model responses into a defined JSON schema. The validator,
// extractor and refiner all use the same call with different schemas and
// prompts.
type Client interface {
	GenerateStructured(ctx context.Context, req Request, target any) error
}

// SchemaField defines a field in the expected output schema.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, array, object
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Request is one structured inference call.
type Request struct {
	Model    string
	System   string
	Messages []llm.Message
	Schema   []SchemaField
}

type client struct {
	gateway llm.Gateway
}

func NewClient(gw llm.Gateway) Client {
	return &client{gateway: gw}
}

func (c *client) GenerateStructured(ctx context.Context, req Request, target any) error {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += fmt.Sprintf(`You must respond with ONLY a valid JSON object matching this schema:

%s

Do not include any text outside the JSON object. No markdown, no explanation.`, buildSchemaDescription(req.Schema))

	messages := append([]llm.Message{{Role: "system", Content: system}}, req.Messages...)

	resp, err := c.gateway.Chat(ctx, llm.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return fmt.Errorf("structured output: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), target); err != nil {
		return fmt.Errorf("failed to parse structured output: %w", err)
	}

	return nil
}

func buildSchemaDescription(fields []SchemaField) string {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, f := range fields {
		required := ""
		if f.Required {
			required = " (REQUIRED)"
		}
		fmt.Fprintf(&sb, `  "%s": <%s>%s // %s`, f.Name, f.Type, required, f.Description)
		if i < len(fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}
