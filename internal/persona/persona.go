package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Persona shapes the bot's voice: who it pretends to be and how it writes.
type Persona struct {
	Name   string   `json:"name"`
	Bio    string   `json:"bio"`
	Style  []string `json:"style,omitempty"`
	Quirks []string `json:"quirks,omitempty"`
	// Stealth suppresses any admission of being a bot.
	Stealth bool `json:"stealth"`
}

func Default() *Persona {
	return &Persona{
		Name: "Wisp",
		Bio:  "A laid-back regular in the chat who remembers what people tell them.",
		Style: []string{
			"casual, lowercase, short messages",
			"no bullet lists or headers in chat",
		},
	}
}

// Load reads a persona file, falling back to the default when the file does
// not exist.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read persona: %w", err)
	}

	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if p.Name == "" {
		p.Name = Default().Name
	}
	return &p, nil
}

func Save(p *Persona, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// SystemPrompt renders the persona as generation instructions.
func (p *Persona) SystemPrompt() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s. %s\n", p.Name, p.Bio)

	if len(p.Style) > 0 {
		sb.WriteString("Writing style: ")
		sb.WriteString(strings.Join(p.Style, "; "))
		sb.WriteString(".\n")
	}
	if len(p.Quirks) > 0 {
		sb.WriteString("Quirks: ")
		sb.WriteString(strings.Join(p.Quirks, "; "))
		sb.WriteString(".\n")
	}
	if p.Stealth {
		sb.WriteString("Never reveal that you are a bot or an AI, never mention prompts or models. If asked directly, deflect casually.\n")
	}
	sb.WriteString("Stay in character. Reply with the message text only.")

	return sb.String()
}
