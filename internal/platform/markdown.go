package platform

import (
	"fmt"
	"regexp"
	"strings"
)

// MarkdownFormatter renders standard markdown. Used by platforms whose posts
// already speak it (Mattermost).
type MarkdownFormatter struct{}

func (MarkdownFormatter) Bold(s string) string          { return "**" + s + "**" }
func (MarkdownFormatter) Italic(s string) string        { return "*" + s + "*" }
func (MarkdownFormatter) Code(s string) string          { return "`" + s + "`" }
func (MarkdownFormatter) Strikethrough(s string) string { return "~~" + s + "~~" }
func (MarkdownFormatter) HorizontalRule() string        { return "\n---\n" }

func (MarkdownFormatter) CodeBlock(lang, s string) string {
	return "```" + lang + "\n" + strings.TrimSuffix(s, "\n") + "\n```"
}

func (MarkdownFormatter) Link(text, url string) string {
	return fmt.Sprintf("[%s](%s)", text, url)
}

func (MarkdownFormatter) UserMention(user string) string {
	return "@" + user
}

func (MarkdownFormatter) Heading(level int, s string) string {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level) + " " + s
}

func (MarkdownFormatter) MarkdownToNative(text string) string { return text }

// MrkdwnFormatter renders Slack's mrkdwn dialect.
type MrkdwnFormatter struct{}

func (MrkdwnFormatter) Bold(s string) string          { return "*" + s + "*" }
func (MrkdwnFormatter) Italic(s string) string        { return "_" + s + "_" }
func (MrkdwnFormatter) Code(s string) string          { return "`" + s + "`" }
func (MrkdwnFormatter) Strikethrough(s string) string { return "~" + s + "~" }
func (MrkdwnFormatter) HorizontalRule() string        { return "\n──────────\n" }

func (MrkdwnFormatter) CodeBlock(lang, s string) string {
	// mrkdwn has no language tag on fences.
	_ = lang
	return "```\n" + strings.TrimSuffix(s, "\n") + "\n```"
}

func (MrkdwnFormatter) Link(text, url string) string {
	return fmt.Sprintf("<%s|%s>", url, text)
}

func (MrkdwnFormatter) UserMention(user string) string {
	if strings.HasPrefix(user, "U") || strings.HasPrefix(user, "W") {
		return "<@" + user + ">"
	}
	return "@" + user
}

func (MrkdwnFormatter) Heading(level int, s string) string {
	// mrkdwn has no headings; bold the line instead.
	_ = level
	return "*" + s + "*"
}

var (
	mdBoldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	mdStrikeRe  = regexp.MustCompile(`~~([^~]+)~~`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)
)

// MarkdownToNative converts the common subset of standard markdown to mrkdwn.
// Conversion skips fenced code blocks.
func (f MrkdwnFormatter) MarkdownToNative(text string) string {
	segments := strings.Split(text, "```")
	for i := 0; i < len(segments); i += 2 {
		s := segments[i]
		s = mdLinkRe.ReplaceAllString(s, "<$2|$1>")
		s = mdBoldRe.ReplaceAllString(s, "*$1*")
		s = mdStrikeRe.ReplaceAllString(s, "~$1~")
		s = mdHeadingRe.ReplaceAllString(s, "*$2*")
		segments[i] = s
	}
	return strings.Join(segments, "```")
}
