package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"matchbot/internal/storage"
)

// fallbackAge stands in when a birth date cannot be parsed.
const fallbackAge = 25

const systemInstruction = "You are a user of a dating app. Judge naturally and realistically."

// BuildPrompt renders the comparison prompt between the acting profile and
// the person who liked it.
func BuildPrompt(actor, target storage.Profile, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %q, a user of a dating app.\n\n", displayName(actor))

	b.WriteString("**Your profile:**\n")
	writeProfile(&b, actor, now)

	b.WriteString("\n**The person who liked you:**\n")
	fmt.Fprintf(&b, "- Name: %s\n", displayName(target))
	writeProfile(&b, target, now)

	b.WriteString(`
**Question:**
This person sent you a LIKE.
Considering your profile, interests, age and gender, decide whether to like them back.

Answer in this format:
Decision: LIKE or PASS
Reason: (one or two short sentences)

Judge naturally and realistically.
`)
	return b.String()
}

func writeProfile(b *strings.Builder, p storage.Profile, now time.Time) {
	fmt.Fprintf(b, "- Age: %d\n", ageFromBirthDate(p.BirthDate, now))
	fmt.Fprintf(b, "- Gender: %s\n", orNone(p.Gender))
	fmt.Fprintf(b, "- Bio: %s\n", orNone(p.Bio))
	interests := NormalizeInterests(p.Interests)
	if len(interests) == 0 {
		b.WriteString("- Interests: none\n")
	} else {
		fmt.Fprintf(b, "- Interests: %s\n", strings.Join(interests, ", "))
	}
}

func displayName(p storage.Profile) string {
	if strings.TrimSpace(p.Nickname) == "" {
		return "Unknown"
	}
	return p.Nickname
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

// ageFromBirthDate derives age in whole years from a "2006-01-02" birth date.
// Unparseable input yields fallbackAge rather than an error.
func ageFromBirthDate(birth string, now time.Time) int {
	bd, err := time.Parse("2006-01-02", strings.TrimSpace(birth))
	if err != nil {
		return fallbackAge
	}
	age := now.Year() - bd.Year()
	if now.Month() < bd.Month() || (now.Month() == bd.Month() && now.Day() < bd.Day()) {
		age--
	}
	return age
}

// NormalizeInterests accepts the raw interests column, which holds either a
// JSON array of strings or garbage from older rows. Malformed encodings
// degrade to an empty list.
func NormalizeInterests(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	out := list[:0]
	for _, it := range list {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
