// soraq/pricing/pricing_test.go
package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCost(t *testing.T) {
	cases := []struct {
		name    string
		tier    Tier
		class   Class
		seconds int
		want    float64
	}{
		{"sora-2 720p 8s", TierSora2, Class720p, 8, 1.6},
		{"sora-2 1080p 4s", TierSora2, Class1080p, 4, 0.8},
		{"sora-2-pro 720p 12s", TierSora2Pro, Class720p, 12, 7.2},
		{"sora-2-pro 1080p 4s", TierSora2Pro, Class1080p, 4, 4.0},
		{"sora-2-pro 1792p 8s", TierSora2Pro, Class1792p, 8, 8.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, ok := Rate(tc.tier, tc.class)
			require.True(t, ok)
			got := Cost(tc.tier, tc.class, tc.seconds)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.InDelta(t, Round4(rate*float64(tc.seconds)), got, 1e-9)
		})
	}
}

func TestCost_UnknownPairIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cost(TierSora2, Class1792p, 8))
	assert.Equal(t, 0.0, Cost(Tier("sora-3"), Class720p, 8))
	assert.Equal(t, 0.0, Cost(TierSora2Pro, Class("4k"), 8))
}

func TestCostForSize(t *testing.T) {
	assert.InDelta(t, 1.6, CostForSize(TierSora2, "720x1280", 8), 1e-9)
	assert.InDelta(t, 12.0, CostForSize(TierSora2Pro, "1024x1792", 12), 1e-9)
	assert.Equal(t, 0.0, CostForSize(TierSora2, "1792x1024", 4))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.123456))
	assert.Equal(t, 1.0, Round4(0.99999))
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("1920x1080")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	for _, bad := range []string{"", "1920", "1920x", "axb", "0x100", "10x-1", "1x2x3"} {
		_, _, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidTier(TierSora2Pro))
	assert.False(t, ValidTier("dall-e"))
	assert.True(t, ValidDuration(12))
	assert.False(t, ValidDuration(10))
	assert.True(t, ValidSize("1080x1920"))
	assert.False(t, ValidSize("640x480"))
}

func TestDisplay(t *testing.T) {
	lines := Display()
	require.Len(t, lines, 5)
	assert.Equal(t, TierSora2, lines[0].Tier)
	assert.Equal(t, Class720p, lines[0].Class)
	assert.InDelta(t, 0.2, lines[0].PerSecond, 1e-9)
	assert.Equal(t, TierSora2Pro, lines[4].Tier)
	assert.Equal(t, Class1792p, lines[4].Class)
}
