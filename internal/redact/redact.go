// Package redact scrubs sensitive data from call transcripts before they
// leave the system of record. The operator live view and logs only ever see
// scrubbed text; the Postgres transcript keeps full fidelity.
package redact

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	ssnRe   = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)
	// 13-16 digit runs, optionally separated in groups of four. Debtors
	// read card numbers aloud during payment arrangements.
	cardRe = regexp.MustCompile(`\b(?:[0-9]{4}[-\s]?){3}[0-9]{1,4}\b`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number, used
// where a stable caller key is needed without storing the number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// Scrub replaces emails, phone numbers, SSNs, and card numbers with
// placeholder tokens. Names are kept so the transcript stays readable.
func Scrub(text string) string {
	text = ssnRe.ReplaceAllString(text, "[SSN]")
	text = cardRe.ReplaceAllString(text, "[CARD]")
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
