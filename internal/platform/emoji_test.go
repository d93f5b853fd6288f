package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmoji(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"thumbsup", "+1"},
		{"thumbs_up", "+1"},
		{"+1", "+1"},
		{"thumbsdown", "-1"},
		{":thumbsup:", "+1"},
		{"+1::skin-tone-3", "+1"},
		{"thumbsup_skin_tone_2", "+1"},
		{"heavy_check_mark", "white_check_mark"},
		{"white_check_mark", "white_check_mark"},
		{"three", "three"},
		{"custom_party_parrot", "custom_party_parrot"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmoji(tt.in), "input %q", tt.in)
	}
}

func TestNumberEmoji(t *testing.T) {
	assert.Equal(t, "one", NumberEmoji(1))
	assert.Equal(t, "nine", NumberEmoji(9))
	assert.Equal(t, "", NumberEmoji(0))
	assert.Equal(t, "", NumberEmoji(10))

	assert.Equal(t, 2, NumberFromEmoji("two"))
	assert.Equal(t, 7, NumberFromEmoji(":seven:"))
	assert.Equal(t, 0, NumberFromEmoji("+1"))
	assert.Equal(t, 0, NumberFromEmoji("zero"))
}
