package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minutely/outreach/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, domain.IndustrySports, Normalize("Sports"))
	assert.Equal(t, domain.IndustrySports, Normalize("sports"))
	assert.Equal(t, domain.IndustryNews, Normalize("  news. "))
	assert.Equal(t, domain.IndustryEntertainment, Normalize(`"Entertainment"`))
	assert.Equal(t, domain.IndustryUnknown, Normalize("Finance"))
	assert.Equal(t, domain.IndustryUnknown, Normalize(""))
}

func TestStaticClassifier(t *testing.T) {
	ctx := context.Background()
	c := &domain.Contact{FirstName: "Jane"}

	industry, err := Static{Industry: domain.IndustrySports}.Classify(ctx, c)
	assert.NoError(t, err)
	assert.Equal(t, domain.IndustrySports, industry)

	industry, err = Static{}.Classify(ctx, c)
	assert.NoError(t, err)
	assert.Equal(t, domain.IndustryUnknown, industry)
}
