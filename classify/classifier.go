// Package classify assigns an industry label to a contact.
package classify

import (
	"context"
	"strings"

	"github.com/minutely/outreach/domain"
)

// Classifier assigns one of the fixed industry values to a contact based on
// profile text. Failures are non-fatal: implementations return
// IndustryUnknown and no error unless the input itself is unusable.
type Classifier interface {
	Classify(ctx context.Context, contact *domain.Contact) (domain.Industry, error)
}

// Normalize maps a raw model answer onto the fixed enumeration,
// case-insensitively, defaulting to Unknown.
func Normalize(raw string) domain.Industry {
	cleaned := strings.Trim(strings.TrimSpace(raw), `"'.`)
	for _, industry := range domain.Industries {
		if strings.EqualFold(cleaned, string(industry)) {
			return industry
		}
	}
	return domain.IndustryUnknown
}

// Static always returns the same industry. Used when no API key is
// configured and in tests.
type Static struct {
	Industry domain.Industry
}

func (s Static) Classify(ctx context.Context, contact *domain.Contact) (domain.Industry, error) {
	if s.Industry == "" {
		return domain.IndustryUnknown, nil
	}
	return s.Industry, nil
}
