package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/minutely/outreach/domain"
)

// maxConnectionNoteLen is the hard cap the target service enforces on
// connection notes.
const maxConnectionNoteLen = 300

// Templates holds the outreach message templates. Each template sees the
// contact as its data, so {{.FirstName}}, {{.Company}} and {{.Title}} are
// available. First messages are keyed by industry with a fallback.
type Templates struct {
	ConnectionNote string
	FirstMessage   map[domain.Industry]string
	FollowUp       string
}

// DefaultTemplates returns the stock message set.
func DefaultTemplates() Templates {
	return Templates{
		ConnectionNote: "Hi {{.FirstName}}, I came across your profile and was impressed by your work{{if .Company}} at {{.Company}}{{end}}. I'd love to connect and exchange ideas.",
		FirstMessage: map[domain.Industry]string{
			domain.IndustrySports:        "Hi {{.FirstName}}, thanks for connecting! I work with teams and media on short-form sports content and thought your perspective{{if .Company}} from {{.Company}}{{end}} would be really interesting. Happy to share what we're building if you're curious.",
			domain.IndustryNews:          "Hi {{.FirstName}}, thanks for connecting! We help newsrooms turn coverage into short-form video, and I'd love to hear how {{if .Company}}{{.Company}}{{else}}your team{{end}} thinks about that space. Open to a quick chat?",
			domain.IndustryEntertainment: "Hi {{.FirstName}}, thanks for connecting! I'm working on tooling for entertainment content distribution and your background caught my eye. Would love to compare notes sometime.",
			domain.IndustryUnknown:       "Hi {{.FirstName}}, thanks for connecting! I'd love to learn more about what you're working on{{if .Company}} at {{.Company}}{{end}} and share a bit about what we're building.",
		},
		FollowUp: "Hi {{.FirstName}}, just floating this back up in case it got buried. No pressure at all, but I'd still love to hear your thoughts when you have a minute.",
	}
}

func render(tmpl string, c *domain.Contact) (string, error) {
	t, err := template.New("message").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// BuildConnectionNote renders the connection note and enforces the length
// cap, truncating on a rune boundary with an ellipsis.
func (t Templates) BuildConnectionNote(c *domain.Contact) (string, error) {
	note, err := render(t.ConnectionNote, c)
	if err != nil {
		return "", err
	}
	runes := []rune(note)
	if len(runes) > maxConnectionNoteLen {
		note = string(runes[:maxConnectionNoteLen-3]) + "..."
	}
	return note, nil
}

// BuildFirstMessage renders the industry-specific first message, falling
// back to the unknown-industry template.
func (t Templates) BuildFirstMessage(c *domain.Contact) (string, error) {
	tmpl, ok := t.FirstMessage[c.Industry]
	if !ok {
		tmpl, ok = t.FirstMessage[domain.IndustryUnknown]
		if !ok {
			return "", fmt.Errorf("no first message template for industry %q", c.Industry)
		}
	}
	return render(tmpl, c)
}

// BuildFollowUp renders the follow-up message.
func (t Templates) BuildFollowUp(c *domain.Contact) (string, error) {
	return render(t.FollowUp, c)
}
