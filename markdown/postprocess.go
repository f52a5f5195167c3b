package markdown

import (
	"regexp"
	"strings"
)

// The postprocessor is inline-whitespace hygiene only. It never infers
// structure from visual patterns; anything structural belongs to the
// converter's element handlers.

var (
	// pass 1: interior spacing of bold spans, and the gap a trimmed
	// span leaves before trailing punctuation.
	boldInteriorRe    = regexp.MustCompile(`\*\*[ \t]*([^*\n](?:[^*\n]*[^*\n \t])?)[ \t]*\*\*`)
	boldPunctuationRe = regexp.MustCompile(`\*\*[ \t]+([,:;.!?])`)

	// pass 2: exactly one space between an emphasis span and the word
	// or span next to it.
	wordThenBoldRe = regexp.MustCompile(`([\p{L}\p{N}])(\*\*[^*\s](?:[^*\n]*[^*\s])?\*\*)`)
	boldThenWordRe = regexp.MustCompile(`(\*\*[^*\s](?:[^*\n]*[^*\s])?\*\*)([\p{L}\p{N}])`)
	boldThenBoldRe = regexp.MustCompile(`(\*\*[^*\s](?:[^*\n]*[^*\s])?\*\*)(\*\*[^*\s](?:[^*\n]*[^*\s])?\*\*)`)
	wordThenEmRe   = regexp.MustCompile(`([\p{L}\p{N}])(\*[^*\s][^*\n]*\*)`)
	emThenWordRe   = regexp.MustCompile(`(\*[^*\s][^*\n]*[^*\s]\*|\*[^*\s]\*)([\p{L}\p{N}])`)

	// pass 3: block spacing.
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Postprocess runs the ordered normalization passes. It is idempotent:
// Postprocess(Postprocess(x)) == Postprocess(x).
func Postprocess(md string) string {
	out := md

	// 1. Bold internal spacing.
	out = boldInteriorRe.ReplaceAllString(out, `**$1**`)
	out = boldPunctuationRe.ReplaceAllString(out, `**$1`)

	// 2. Inline-formatting external spacing. No pass introduces a line
	// break; all insertions are single spaces on the same line.
	out = wordThenBoldRe.ReplaceAllString(out, `$1 $2`)
	out = boldThenWordRe.ReplaceAllString(out, `$1 $2`)
	out = boldThenBoldRe.ReplaceAllString(out, `$1 $2`)
	out = wordThenEmRe.ReplaceAllString(out, `$1 $2`)
	out = emThenWordRe.ReplaceAllString(out, `$1 $2`)

	// 3. Blank-line normalization: at most one blank line between
	// blocks, exactly one trailing newline.
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimLeft(out, "\n")
	out = strings.TrimRight(out, "\n \t")
	if out != "" {
		out += "\n"
	}
	return out
}

var (
	fenceLineRe   = regexp.MustCompile("(?m)^```[^\n]*$")
	imageRe       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisRe    = regexp.MustCompile(`\*([^*\n]+)\*`)
	underscoreRe  = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	inlineCodeRe  = regexp.MustCompile("`([^`\n]*)`")
	headingMarkRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	quoteMarkRe   = regexp.MustCompile(`(?m)^>[ \t]?`)
)

// Plaintext projects Markdown to text for the plain index: fences,
// emphasis markers, and link syntax are stripped while the visible
// content — including code body text — is kept.
func Plaintext(md string) string {
	out := fenceLineRe.ReplaceAllString(md, "")
	out = imageRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = strings.ReplaceAll(out, "**", "")
	out = emphasisRe.ReplaceAllString(out, "$1")
	out = underscoreRe.ReplaceAllString(out, "$1")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = headingMarkRe.ReplaceAllString(out, "")
	out = quoteMarkRe.ReplaceAllString(out, "")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
