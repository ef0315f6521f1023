package tariff_test

import (
	"testing"

	"github.com/practix/billing/tariff"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtures(t *testing.T) {
	t.Parallel()

	fixtures := tariff.Fixtures()
	require.NotEmpty(t, fixtures)

	seen := make(map[string]bool)
	for _, tr := range fixtures {
		_, err := uuid.Parse(tr.ID)
		assert.NoError(t, err, "fixture %s must have a stable uuid", tr.Name)
		assert.False(t, seen[tr.ID], "fixture ids must be unique")
		seen[tr.ID] = true

		assert.NotEmpty(t, tr.Name)
		assert.True(t, tr.Price.IsPositive())
		assert.NotEmpty(t, tr.Currency)
		assert.GreaterOrEqual(t, tr.DurationDays, 1)
		assert.True(t, tr.Active, "seeded tariffs must be purchasable")
	}
}
