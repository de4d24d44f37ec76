package call

import (
	"regexp"

	"github.com/google/uuid"
)

// Speakers for transcript attribution.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Turn is one attributed line of the in-memory conversation context.
type Turn struct {
	Speaker string
	Text    string
}

// ContactProfile is the immutable snapshot of the person being called.
type ContactProfile struct {
	ID          uuid.UUID
	Name        string
	PhoneNumber string
	AmountDue   string
	Currency    string
	DueDate     string
	Notes       string
}

// Script is the immutable per-call configuration: what the agent should
// say, how it should sound, and where follow-ups go.
type Script struct {
	CampaignID   uuid.UUID
	UserID       uuid.UUID
	AgentName    string
	Goal         string
	Instructions string
	Greeting     string
	Tone         string
	SMSTemplate  string
	FromNumber   string
}

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidNumber reports whether a number is in E.164 form.
func ValidNumber(number string) bool {
	return e164.MatchString(number)
}
