package breaker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateAt(t *testing.T) {
	b := "intro\n```go\nfunc main() {}\n```\nafter\n```diff\n-a\n+b\n"

	tests := []struct {
		name   string
		pos    int
		inside bool
		lang   string
	}{
		{"before first fence", 3, false, ""},
		{"inside go block", strings.Index(b, "func"), true, "go"},
		{"after close", strings.Index(b, "after"), false, ""},
		{"inside diff block", len(b), true, "diff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := StateAt(b, tt.pos)
			assert.Equal(t, tt.inside, st.Inside)
			assert.Equal(t, tt.lang, st.Language)
			if tt.inside {
				assert.GreaterOrEqual(t, st.OpenPos, 0)
			} else {
				assert.Equal(t, -1, st.OpenPos)
			}
		})
	}
}

func TestFindLogicalBreakpoint_Priority(t *testing.T) {
	// Contains a line break, a paragraph break, and a tool marker: the
	// marker must win even though it is not the latest candidate.
	b := "Running tests\n  ↳ ✓ 12 passed\nmore output\n\ntail text\n"

	bp, ok := FindLogicalBreakpoint(b, 0, -1)
	require.True(t, ok)
	assert.Equal(t, BreakToolMarker, bp.Type)
	assert.Equal(t, strings.Index(b, "more"), bp.Position)
}

func TestFindLogicalBreakpoint_Heading(t *testing.T) {
	b := "some text\nmore text\n## Results\nbody\n"

	bp, ok := FindLogicalBreakpoint(b, 0, -1)
	require.True(t, ok)
	assert.Equal(t, BreakHeading, bp.Type)
	assert.Equal(t, strings.Index(b, "## Results"), bp.Position)
}

func TestFindLogicalBreakpoint_InsideCodeBlock(t *testing.T) {
	b := "```go\nline1\nline2\n```\nafter\n"
	start := strings.Index(b, "line1")

	bp, ok := FindLogicalBreakpoint(b, start, -1)
	require.True(t, ok)
	assert.Equal(t, BreakCodeBlockEnd, bp.Type)
	assert.Equal(t, strings.Index(b, "after"), bp.Position)
}

func TestFindLogicalBreakpoint_InsideUnclosedBlock(t *testing.T) {
	b := "```diff\n-old\n+new\nmore\n"
	start := strings.Index(b, "-old")

	_, ok := FindLogicalBreakpoint(b, start, -1)
	assert.False(t, ok, "no candidate inside an unclosed block")
}

func TestFindLogicalBreakpoint_CandidateNotInsideBlock(t *testing.T) {
	// The paragraph break inside the block must not be chosen.
	b := "```text\npara one\n\npara two\n```\ndone\n"

	bp, ok := FindLogicalBreakpoint(b, 0, -1)
	require.True(t, ok)
	assert.Equal(t, BreakCodeBlockEnd, bp.Type)
	assert.False(t, StateAt(b, bp.Position).Inside)
}

func TestFindLogicalBreakpoint_Lookahead(t *testing.T) {
	b := "aaaa\nbbbb\ncccc\n"

	// Window too small to reach any newline.
	_, ok := FindLogicalBreakpoint(b, 0, 3)
	assert.False(t, ok)

	bp, ok := FindLogicalBreakpoint(b, 0, 6)
	require.True(t, ok)
	assert.Equal(t, BreakLine, bp.Type)
	assert.Equal(t, 5, bp.Position)
}

func TestShouldFlushEarly(t *testing.T) {
	lim := Limits{Soft: 10, MaxLines: 4}

	assert.False(t, ShouldFlushEarly("short", lim))
	assert.True(t, ShouldFlushEarly("0123456789", lim))
	assert.True(t, ShouldFlushEarly("a\nb\nc\nd", lim))
	assert.False(t, ShouldFlushEarly("a\nb\nc", lim))
}

func TestEndsAtBreakpoint(t *testing.T) {
	tests := []struct {
		name string
		b    string
		want BreakType
	}{
		{"empty", "", BreakNone},
		{"no trailing newline", "text", BreakNone},
		{"plain line", "text\n", BreakNone},
		{"paragraph", "text\n\n", BreakParagraph},
		{"tool marker", "Bash\n  ↳ ✓ ok\n", BreakToolMarker},
		{"tool marker failure", "Bash\n  ↳ ❌ exit 1\n", BreakToolMarker},
		{"code block end", "```go\nx\n```\n", BreakCodeBlockEnd},
		{"open fence", "text\n```go\n", BreakNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EndsAtBreakpoint(tt.b))
		})
	}
}

func TestBreak_NoSplitBelowLimits(t *testing.T) {
	lim := Limits{Soft: 100, Hard: 200}
	b := "small buffer\n"

	res := Break(b, lim)
	assert.False(t, res.Split)
	assert.Equal(t, b, res.Head)
	assert.Empty(t, res.Tail)
}

func TestBreak_Idempotent(t *testing.T) {
	// Stable input at or under hard: repeated flushes never split.
	lim := Limits{Soft: 1000, Hard: 50}
	b := strings.Repeat("x", 50)

	for i := 0; i < 2; i++ {
		res := Break(b, lim)
		assert.False(t, res.Split)
		assert.Equal(t, b, res.Head)
	}
}

func TestBreak_HardWindow(t *testing.T) {
	lim := Limits{Soft: 1000, Hard: 100}
	// Newlines only in the window [70, 100].
	b := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 40)

	res := Break(b, lim)
	require.True(t, res.Split)
	assert.Equal(t, strings.Repeat("a", 80), res.Head)
	assert.Equal(t, strings.Repeat("b", 40), res.Tail)
}

func TestBreak_ExactBoundaries(t *testing.T) {
	lim := Limits{Soft: 40, Hard: 100}

	// Exactly hard: soft break path, splits at the paragraph break.
	b := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 48)
	require.Len(t, b, 100)
	res := Break(b, lim)
	require.True(t, res.Split)
	assert.Equal(t, strings.Repeat("a", 50), res.Head)
	assert.Equal(t, strings.Repeat("b", 48), res.Tail)

	// hard+1 with no breakpoint at all: stays whole.
	res = Break(strings.Repeat("c", 101), lim)
	assert.False(t, res.Split)
}

func TestBreak_CodeBlockMovesWhole(t *testing.T) {
	lim := Limits{Soft: 1000, Hard: 60}
	// An unclosed diff block straddles the hard limit; the cut must land
	// before the opening fence so the block opens the next post.
	b := "progress so far\n```diff\n" + strings.Repeat("-x\n+y\n", 20)

	res := Break(b, lim)
	require.True(t, res.Split)
	assert.Equal(t, "progress so far", res.Head)
	assert.True(t, strings.HasPrefix(res.Tail, "```diff\n"))
}

func TestBreak_SingleOversizedBlockStaysWhole(t *testing.T) {
	lim := Limits{Soft: 1000, Hard: 30}
	// Block opens at position 0: nothing can move, no split.
	b := "```go\n" + strings.Repeat("line\n", 20)

	res := Break(b, lim)
	assert.False(t, res.Split)
	assert.Equal(t, b, res.Head)
}

func TestBreak_BreakpointAtZeroIgnored(t *testing.T) {
	lim := Limits{Soft: 5, Hard: 1000}
	// The only heading candidate sits at position 0; cutting there would
	// produce an empty head.
	b := "## title without any newline at all"

	res := Break(b, lim)
	assert.False(t, res.Split)
	assert.Equal(t, b, res.Head)
}

func TestBreak_EmptyAndExactSoft(t *testing.T) {
	lim := Limits{Soft: 10, Hard: 100}

	res := Break("", lim)
	assert.False(t, res.Split)
	assert.Empty(t, res.Head)

	// Exactly soft: the search starts at the buffer end, nothing to move.
	b := strings.Repeat("x", 10)
	res = Break(b, lim)
	assert.False(t, res.Split)
	assert.Equal(t, b, res.Head)
}

func TestBreak_RoundTrip(t *testing.T) {
	lim := Limits{Soft: 20, Hard: 60}
	buffers := []string{
		"first paragraph of prose\n\nsecond paragraph that runs longer\n",
		"intro\n```go\nfunc main() {}\n```\nepilogue after the block\n",
		"Running tests\n  ↳ ✓ 12 passed\noutput follows\n",
		strings.Repeat("a", 45) + "\n" + strings.Repeat("b", 30),
	}

	for _, b := range buffers {
		res := Break(b, lim)
		require.True(t, res.Split, "buffer %q", b)
		require.True(t, strings.HasPrefix(b, res.Head))
		require.True(t, strings.HasSuffix(b, res.Tail))
		// Only whitespace may be lost at the seam.
		seam := b[len(res.Head) : len(b)-len(res.Tail)]
		assert.Empty(t, strings.Trim(seam, " \t\n"), "seam %q in %q", seam, b)
	}
}

func TestTruncate(t *testing.T) {
	got, ok := Truncate("short", 100)
	assert.False(t, ok)
	assert.Equal(t, "short", got)

	long := strings.Repeat("line of text\n", 100)
	got, ok = Truncate(long, 200)
	require.True(t, ok)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, strings.HasSuffix(got, TruncationSuffix))
}

func TestTruncate_ClosesOpenBlock(t *testing.T) {
	long := "```go\n" + strings.Repeat("code line\n", 100)
	got, ok := Truncate(long, 150)
	require.True(t, ok)
	assert.True(t, strings.Contains(got, "\n```\n") || strings.HasSuffix(strings.TrimSuffix(got, TruncationSuffix), "```"))

	// Fence count must be even so the post renders.
	fences := 0
	for _, ln := range strings.Split(got, "\n") {
		if strings.HasPrefix(ln, "```") {
			fences++
		}
	}
	assert.Equal(t, 0, fences%2)
}
