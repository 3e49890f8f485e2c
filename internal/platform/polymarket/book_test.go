package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func TestNormaliseBids_SortsDescendingAndTruncates(t *testing.T) {
	levels := []domain.PriceLevel{
		{Price: 0.40, Size: 1},
		{Price: 0.45, Size: 2},
		{Price: 0.42, Size: 3},
		{Price: 0.41, Size: 4},
	}

	got := normaliseBids(levels, 3)

	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.45, Size: 2},
		{Price: 0.42, Size: 3},
		{Price: 0.41, Size: 4},
	}, got)
}

func TestNormaliseAsks_DuplicatesAndZeroSize(t *testing.T) {
	levels := []domain.PriceLevel{
		{Price: 0.55, Size: 1},
		{Price: 0.52, Size: 2},
		{Price: 0.55, Size: 7}, // last occurrence wins
		{Price: 0.60, Size: 0}, // dropped
		{Price: 0, Size: 5},    // dropped
	}

	got := normaliseAsks(levels, domain.BookDepth)

	assert.Equal(t, []domain.PriceLevel{
		{Price: 0.52, Size: 2},
		{Price: 0.55, Size: 7},
	}, got)
}

func TestNormalise_Empty(t *testing.T) {
	assert.Empty(t, normaliseBids(nil, domain.BookDepth))
}

func TestParseLevels_SkipsGarbage(t *testing.T) {
	got := parseLevels([]WSPriceLevel{
		{Price: "0.48", Size: "100"},
		{Price: "abc", Size: "1"},
		{Price: "0.47", Size: ""},
	})
	assert.Equal(t, []domain.PriceLevel{{Price: 0.48, Size: 100}}, got)
}
