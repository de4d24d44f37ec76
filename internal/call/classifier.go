package call

import (
	"context"
	"fmt"
	"strings"

	"github.com/solvencyai/voicecollect/internal/llm"
)

// Classifier runs the two per-turn intent decisions as constrained yes/no
// completions: whether a payment SMS should fire now, and whether the
// conversation has reached a natural close.
type Classifier struct {
	client llm.Client
	model  string
}

func NewClassifier(client llm.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

const paymentIntentPrompt = `You review one exchange from a live collections call and decide whether the caller should receive a payment link by text message right now.

Answer YES only if the person clearly agreed to pay, asked how to pay, or asked for a link or payment details. Answer NO in every other case, including vague interest or requests to call back later.

Answer with exactly one word: YES or NO.`

const endOfCallPrompt = `You review one exchange from a live collections call and decide whether the conversation has reached its natural end.

Answer YES if any of these apply: either side said goodbye or used closing language, the person refused and disengaged, a payment arrangement was settled, the exchange has stopped making progress, the person became hostile or uncooperative, or the person asked to end the call.

Answer with exactly one word: YES or NO.`

// PaymentIntent reports whether the latest exchange warrants sending the
// payment SMS.
func (c *Classifier) PaymentIntent(ctx context.Context, utterance, reply string) (bool, error) {
	return c.decide(ctx, paymentIntentPrompt, utterance, reply)
}

// ShouldEndCall reports whether the latest exchange closes the conversation.
func (c *Classifier) ShouldEndCall(ctx context.Context, utterance, reply string) (bool, error) {
	return c.decide(ctx, endOfCallPrompt, utterance, reply)
}

func (c *Classifier) decide(ctx context.Context, system, utterance, reply string) (bool, error) {
	resp, err := c.client.Complete(ctx, llm.Request{
		Model:  c.model,
		System: system,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf("Caller: %s\nAgent: %s", utterance, reply)},
		},
		MaxTokens:   5,
		Temperature: 0,
	})
	if err != nil {
		return false, fmt.Errorf("classify: %w", err)
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Text))
	return strings.HasPrefix(answer, "YES"), nil
}
