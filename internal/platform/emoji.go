package platform

import "strings"

// Canonical reaction names used throughout the session runtime. Adapters
// normalize platform-specific names to these at the port boundary.
const (
	EmojiApprove  = "+1"
	EmojiDeny     = "-1"
	EmojiAllowAll = "white_check_mark"
	EmojiMinimize = "arrow_down_small"
	EmojiBug      = "bug"
)

var numberEmojis = [9]string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// aliases maps platform spellings to canonical names.
var aliases = map[string]string{
	"thumbsup":         EmojiApprove,
	"thumbs_up":        EmojiApprove,
	"thumbsdown":       EmojiDeny,
	"thumbs_down":      EmojiDeny,
	"heavy_check_mark": EmojiAllowAll,
}

// NormalizeEmoji maps a platform reaction name to its canonical form.
// Skin-tone suffixes (":skin-tone-2" or "_skin_tone_2" style) are stripped.
func NormalizeEmoji(name string) string {
	name = strings.TrimPrefix(strings.TrimSuffix(name, ":"), ":")
	if i := strings.Index(name, "::skin-tone-"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, "_skin_tone_"); i >= 0 {
		name = name[:i]
	}
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// NumberEmoji returns the reaction name for option n (1-based). Empty for
// n outside 1..9.
func NumberEmoji(n int) string {
	if n < 1 || n > 9 {
		return ""
	}
	return numberEmojis[n-1]
}

// NumberFromEmoji returns the 1-based option index for a number reaction,
// or 0 when the name is not a number emoji.
func NumberFromEmoji(name string) int {
	name = NormalizeEmoji(name)
	for i, e := range numberEmojis {
		if e == name {
			return i + 1
		}
	}
	return 0
}
