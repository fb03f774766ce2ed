// Copyright 2024-2026 Aiku AI

// Package stylingfmt converts XMPP message styling (XEP-0393) to Matrix HTML.
package stylingfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting a styled XMPP message to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// Content returns the message as Matrix event content of the given type.
func (pm *ParsedMessage) Content(msgType event.MessageType) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       msgType,
		Body:          pm.Body,
		Format:        pm.Format,
		FormattedBody: pm.FormattedBody,
	}
}

const (
	spanOpen  = `(^|[\s*_~(>])`
	spanClose = `($|[\s*_~).,!?:;&<])`
)

// span builds the regex for a span directive. The text between the
// directives must not start or end with whitespace.
func span(directive string) *regexp.Regexp {
	d := regexp.QuoteMeta(directive)
	return regexp.MustCompile(spanOpen + d + `([^\s` + d + `](?:[^` + d + `\n]*?[^\s` + d + `])?)` + d + spanClose)
}

var (
	strongRe = span("*")
	emRe     = span("_")
	strikeRe = span("~")
	codeRe   = regexp.MustCompile(spanOpen + "`([^`\\s](?:[^`\\n]*?[^`\\s])?)`" + spanClose)
	urlRe    = regexp.MustCompile(`(?i)\b(?:https?://|mailto:)[^\s<>"]+[^\s<>".,!?:;)]`)
	quoteRe  = regexp.MustCompile(`^>\s?(.*)$`)
)

// maxSpanPasses bounds the repeated span substitution. Each pass handles the
// spans that share a boundary character with a span from the previous pass.
const maxSpanPasses = 4

func placeholder(idx int) string {
	return "\x00SPAN" + strconv.Itoa(idx) + "\x00"
}

// Parse converts a styled XMPP message body to Matrix message content.
// Messages without any styling are returned as plain text.
func Parse(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	formatted := formatBlocks(strings.Split(text, "\n"))
	if formatted == strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>") {
		return &ParsedMessage{Body: text}
	}
	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

// formatBlocks splits the message into preformatted blocks, quotes and plain
// lines, formatting each according to its kind.
func formatBlocks(lines []string) string {
	var result []string
	var plain []string
	flushPlain := func() {
		if len(plain) > 0 {
			result = append(result, formatSpans(strings.Join(plain, "\n")))
			plain = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "```"):
			flushPlain()
			lang := strings.TrimSpace(strings.TrimPrefix(line, "```"))
			var body []string
			for i++; i < len(lines) && lines[i] != "```"; i++ {
				body = append(body, lines[i])
			}
			result = append(result, preBlock(lang, strings.Join(body, "\n")))
		case strings.HasPrefix(line, ">"):
			flushPlain()
			var quoted []string
			for ; i < len(lines) && strings.HasPrefix(lines[i], ">"); i++ {
				quoted = append(quoted, quoteRe.FindStringSubmatch(lines[i])[1])
			}
			i--
			result = append(result, "<blockquote>"+formatBlocks(quoted)+"</blockquote>")
		default:
			plain = append(plain, line)
		}
	}
	flushPlain()
	return strings.Join(result, "<br/>")
}

func preBlock(lang, body string) string {
	if lang != "" && !strings.ContainsAny(lang, " \t") {
		return `<pre><code class="language-` + html.EscapeString(lang) + `">` + html.EscapeString(body) + `</code></pre>`
	}
	return `<pre><code>` + html.EscapeString(body) + `</code></pre>`
}

// formatSpans applies inline styling to a run of plain lines. Inline code
// and links are swapped for placeholders so their content is not styled.
func formatSpans(text string) string {
	var saved []string
	save := func(s string) string {
		saved = append(saved, s)
		return placeholder(len(saved) - 1)
	}

	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeRe.FindStringSubmatch(match)
		return parts[1] + save("<code>"+html.EscapeString(parts[2])+"</code>") + parts[3]
	})
	text = urlRe.ReplaceAllStringFunc(text, func(match string) string {
		escaped := html.EscapeString(match)
		return save(`<a href="` + escaped + `">` + escaped + `</a>`)
	})

	text = html.EscapeString(text)
	for range maxSpanPasses {
		before := text
		text = strongRe.ReplaceAllString(text, "$1<strong>$2</strong>$3")
		text = emRe.ReplaceAllString(text, "$1<em>$2</em>$3")
		text = strikeRe.ReplaceAllString(text, "$1<del>$2</del>$3")
		if text == before {
			break
		}
	}

	for i, s := range saved {
		text = strings.Replace(text, placeholder(i), s, 1)
	}
	return strings.ReplaceAll(text, "\n", "<br/>")
}
