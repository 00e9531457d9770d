package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/stepdriver/api/schemas"
)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"last": schemas.OrdinalLast,
}

// roleNouns maps the nouns testers use for elements onto ARIA roles.
var roleNouns = map[string]string{
	"button":    "button",
	"btn":       "button",
	"link":      "link",
	"field":     "textbox",
	"input":     "textbox",
	"textbox":   "textbox",
	"textarea":  "textbox",
	"box":       "textbox",
	"checkbox":  "checkbox",
	"radio":     "radio",
	"dropdown":  "combobox",
	"select":    "combobox",
	"combobox":  "combobox",
	"menu":      "combobox",
	"heading":   "heading",
	"header":    "heading",
	"title":     "heading",
	"image":     "img",
	"icon":      "img",
	"logo":      "img",
	"picture":   "img",
	"tab":       "tab",
	"option":    "option",
	"dialog":    "dialog",
	"modal":     "dialog",
	"popup":     "dialog",
	"menuitem":  "menuitem",
	"switch":    "switch",
	"slider":    "slider",
	"list item": "listitem",
}

// Some nouns are also landmark names; "the header" on its own means the page
// header, while "the welcome header" is a heading.
var bareLandmarks = map[string]bool{"header": true, "title": true, "menu": true}

var (
	regionRe  = regexp.MustCompile(`^(.+?)\s+(?:in|inside|within|under)\s+(?:the\s+|a\s+|an\s+)?(.+)$`)
	numericRe = regexp.MustCompile(`^(\d+)(?:st|nd|rd|th)$`)
	quoteRe   = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
)

// parseTarget splits a noun phrase such as `the second "Submit" button in the
// login form` into phrase, role, ordinal and region.
func parseTarget(raw string, hints schemas.ParseHints) schemas.TargetDescription {
	text := strings.TrimSpace(raw)
	if text == "" {
		return schemas.TargetDescription{}
	}
	if alias, ok := matchAlias(text, hints); ok {
		return schemas.TargetDescription{Phrase: alias}
	}

	var target schemas.TargetDescription
	// Quoted text is taken verbatim and shields its words from qualifier parsing.
	var quoted string
	if loc := quoteRe.FindStringSubmatchIndex(text); loc != nil {
		m := quoteRe.FindStringSubmatch(text)
		quoted = m[1] + m[2]
		text = strings.TrimSpace(text[:loc[0]] + " \x00 " + text[loc[1]:])
	}

	if m := regionRe.FindStringSubmatch(text); m != nil && !strings.Contains(m[2], "\x00") {
		text, target.Region = m[1], strings.ToLower(strings.TrimSpace(m[2]))
	}

	words := strings.Fields(text)
	words = dropArticle(words)
	if len(words) > 0 {
		if n, ok := ordinal(words[0]); ok {
			target.Ordinal = n
			words = words[1:]
		}
	}

	// Trailing role noun: "login button", "list item".
	if n := len(words); n >= 2 {
		if role, ok := roleNouns[strings.ToLower(words[n-2]+" "+words[n-1])]; ok {
			target.Role, words = role, words[:n-2]
		}
	}
	if target.Role == "" && len(words) > 0 {
		last := strings.ToLower(words[len(words)-1])
		if role, ok := roleNouns[last]; ok && !(len(words) == 1 && bareLandmarks[last]) {
			target.Role, words = role, words[:len(words)-1]
		}
	}
	// Leading role noun: `the button "Save"`.
	if target.Role == "" && len(words) > 1 {
		if role, ok := roleNouns[strings.ToLower(words[0])]; ok && words[1] == "\x00" {
			target.Role, words = role, words[1:]
		}
	}

	phrase := strings.Join(words, " ")
	phrase = strings.TrimSpace(strings.ReplaceAll(phrase, "\x00", quoted))
	if quoted == "" {
		phrase = strings.ToLower(phrase)
	}
	target.Phrase = phrase
	return target
}

func matchAlias(text string, hints schemas.ParseHints) (string, bool) {
	p := normalizeAlias(text)
	for _, alias := range hints.Aliases {
		if normalizeAlias(alias) == p {
			return alias, true
		}
	}
	if p == "it" {
		return "it", true
	}
	return "", false
}

func normalizeAlias(s string) string {
	words := dropArticle(strings.Fields(strings.ToLower(s)))
	return strings.Join(words, " ")
}

func dropArticle(words []string) []string {
	if len(words) > 0 {
		switch strings.ToLower(words[0]) {
		case "the", "a", "an":
			return words[1:]
		}
	}
	return words
}

func ordinal(word string) (int, bool) {
	w := strings.ToLower(word)
	if n, ok := ordinalWords[w]; ok {
		return n, true
	}
	if m := numericRe.FindStringSubmatch(w); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// isPageTarget reports whether a noun phrase names the whole page rather than an element.
func isPageTarget(raw string) bool {
	switch normalizeAlias(raw) {
	case "page", "screen", "body", "current page", "whole page", "window":
		return true
	}
	return false
}
