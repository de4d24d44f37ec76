package call

import (
	"context"
	"fmt"
	"strings"

	"github.com/solvencyai/voicecollect/internal/llm"
)

// Responder builds the conversation-aware prompt for a turn and obtains the
// next spoken reply from the language model. Service errors are not retried
// here; the session drops the turn and keeps listening.
type Responder struct {
	client      llm.Client
	model       string
	maxTokens   int64
	temperature float64
}

func NewResponder(client llm.Client, model string) *Responder {
	return &Responder{
		client:      client,
		model:       model,
		maxTokens:   150,
		temperature: 0.7,
	}
}

// Respond returns the assistant reply for the joined utterance given the
// prior conversation context.
func (r *Responder) Respond(ctx context.Context, script Script, contact ContactProfile, history []Turn, utterance string) (string, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Speaker == SpeakerAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: utterance})

	resp, err := r.client.Complete(ctx, llm.Request{
		Model:       r.model,
		System:      systemPrompt(script, contact),
		Messages:    messages,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		return "", fmt.Errorf("generate reply: empty completion")
	}
	return reply, nil
}

func systemPrompt(script Script, contact ContactProfile) string {
	var b strings.Builder

	agent := script.AgentName
	if agent == "" {
		agent = "an agent"
	}
	fmt.Fprintf(&b, "You are %s, speaking on a live phone call about an overdue account.\n\n", agent)

	if script.Instructions != "" {
		b.WriteString(script.Instructions)
		b.WriteString("\n\n")
	}
	if script.Goal != "" {
		fmt.Fprintf(&b, "Goal of this call: %s\n\n", script.Goal)
	}

	b.WriteString("Rules for this conversation:\n")
	tone := script.Tone
	if tone == "" {
		tone = "professional and courteous"
	}
	fmt.Fprintf(&b, "- Keep the tone %s.\n", tone)
	b.WriteString("- Replies are spoken aloud. Keep them to one or two short sentences.\n")
	b.WriteString("- Never state payment details that are not listed below.\n")
	b.WriteString("- If asked to stop contact, acknowledge it and close the call politely.\n\n")

	b.WriteString("Details for this call:\n")
	if contact.Name != "" {
		fmt.Fprintf(&b, "- Name: %s\n", contact.Name)
	}
	if contact.AmountDue != "" {
		fmt.Fprintf(&b, "- Amount due: %s%s\n", contact.Currency, contact.AmountDue)
	}
	if contact.DueDate != "" {
		fmt.Fprintf(&b, "- Due date: %s\n", contact.DueDate)
	}
	if contact.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", contact.Notes)
	}

	return strings.TrimSpace(b.String())
}
