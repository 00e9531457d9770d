package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/textmatch"
)

// q matches one single- or double-quoted value, quotes included.
const q = `("[^"]*"|'[^']*')`

// rule is one entry of the pattern vocabulary. build may decline a match, in
// which case the next rule is tried.
type rule struct {
	name  string
	re    *regexp.Regexp
	build func(m []string, hints schemas.ParseHints) (schemas.Intent, bool)
}

func pattern(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(?:` + expr + `)$`)
}

// keyAliases canonicalizes the key names the vocabulary accepts.
var keyAliases = map[string]string{
	"enter": "Enter", "return": "Enter", "tab": "Tab", "escape": "Escape", "esc": "Escape",
	"backspace": "Backspace", "delete": "Delete", "space": "Space",
	"up": "ArrowUp", "down": "ArrowDown", "left": "ArrowLeft", "right": "ArrowRight",
	"arrow up": "ArrowUp", "arrow down": "ArrowDown", "arrow left": "ArrowLeft", "arrow right": "ArrowRight",
	"arrowup": "ArrowUp", "arrowdown": "ArrowDown", "arrowleft": "ArrowLeft", "arrowright": "ArrowRight",
	"home": "Home", "end": "End", "page up": "PageUp", "page down": "PageDown", "pageup": "PageUp", "pagedown": "PageDown",
}

const keyNamesExpr = `(enter|return|tab|escape|esc|backspace|delete|space|arrow ?up|arrow ?down|arrow ?left|arrow ?right|up|down|left|right|home|end|page ?up|page ?down)`

var stateWords = map[string]string{
	"enabled": "enabled", "disabled": "disabled",
	"checked": "checked", "ticked": "checked", "unchecked": "unchecked", "unticked": "unchecked",
	"not checked": "unchecked", "not be checked": "unchecked",
	"selected": "selected", "editable": "editable", "empty": "empty",
}

// vocabulary is the ordered pattern table. Order matters: more specific
// phrasings come before the general ones that would also match them.
var vocabulary = []rule{
	{
		name: "checkpoint",
		re:   pattern(`(?:i )?(?:save|create|take|set|make)(?: a)? checkpoint|checkpoint`),
		build: func([]string, schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindCheckpoint, Source: schemas.SourceContext}, true
		},
	},
	{
		name: "reset",
		re:   pattern(`(?:i )?(?:reset|roll ?back|restore|revert)(?: the)?(?: context| state| session)?(?: to(?: the)?(?: last)? checkpoint)?`),
		build: func([]string, schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindReset, Source: schemas.SourceContext}, true
		},
	},
	{
		name: "navigate",
		re:   pattern(`(?:i )?(?:am on|go to|navigate to|open|visit|browse to|load)(?: the)?(?: page| url| site| website)?(?: at)? (.+)`),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			target, ok := urlLike(m[1])
			if !ok {
				return schemas.Intent{}, false
			}
			return schemas.Intent{Kind: schemas.KindNavigate, Parameters: schemas.Parameters{{Key: schemas.ParamURL, Value: target}}}, true
		},
	},
	{
		name: "assert title",
		re:   pattern(`(?:the )?(?:page |window )?title should (be|equal|contain|include|read) ` + q),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			return expectation(schemas.KindAssertTitle, m[1], m[2]), true
		},
	},
	{
		name: "assert url",
		re:   pattern(`(?:the )?(?:current )?(?:url|address) should (be|equal|contain|include|end with|read) ` + q),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			return expectation(schemas.KindAssertURL, m[1], m[2]), true
		},
	},
	{
		name: "assert on url",
		re:   pattern(`i should be (?:on|at|redirected to)(?: the)?(?: page)? ` + q),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			return expectation(schemas.KindAssertURL, "contain", m[1]), true
		},
	},
	{
		name: "assert page text",
		re:   pattern(`(?:the )?(?:page|screen) should (?:show|display|contain|include|have|say|mention)(?: the)?(?: text| message)? ` + q),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			return expectation(schemas.KindAssertText, "contain", m[1]), true
		},
	},
	{
		name: "assert text absent",
		re:   pattern(`i should not see(?: the)?(?: text| message)? ` + q + `(?: (?:in|inside|within|on|under) (.+))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			target := parseTarget(m[1], hints)
			if m[2] != "" {
				target.Region = strings.ToLower(strings.Join(dropArticle(strings.Fields(m[2])), " "))
			}
			return schemas.Intent{Kind: schemas.KindAssertHidden, Target: target}, true
		},
	},
	{
		name: "assert text seen",
		re:   pattern(`i should see(?: the)?(?: text| message)? ` + q + `(?: (?:in|inside|within|on|under) (.+))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			in := expectation(schemas.KindAssertText, "contain", m[1])
			if m[2] != "" && !isPageTarget(m[2]) {
				in.Target = parseTarget(m[2], hints)
			}
			return in, true
		},
	},
	{
		name: "assert text visible",
		re:   pattern(`(?:the )?(?:text|message) ` + q + ` should (?:be )?(?:visible|displayed|shown|appear)`),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			return expectation(schemas.KindAssertText, "contain", m[1]), true
		},
	},
	{
		name: "assert hidden",
		re:   pattern(`(.+?) should (?:not be (?:visible|displayed|shown|present)|be hidden|be invisible|disappear|be gone|not exist)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindAssertHidden, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "assert not seen",
		re:   pattern(`i should not see (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindAssertHidden, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "assert visual",
		re:   pattern(`(.+?) should (?:look|appear) (?:the same|unchanged|as before|like(?: the)? baseline(?: ` + q + `)?|like ` + q + `)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			in := schemas.Intent{Kind: schemas.KindAssertVisual}
			name := textmatch.Unquote(m[2] + m[3])
			if !isPageTarget(m[1]) {
				in.Target = parseTarget(m[1], hints)
			}
			if name == "" {
				name = normalizeAlias(m[1])
			}
			in.Parameters = schemas.Parameters{{Key: schemas.ParamName, Value: name}}
			return in, true
		},
	},
	{
		name: "assert state",
		re:   pattern(`(.+?) should (?:be |remain |stay )?(enabled|disabled|checked|ticked|unchecked|not be checked|not checked|unticked|selected|editable|empty)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{
				Kind:       schemas.KindAssertState,
				Target:     parseTarget(m[1], hints),
				Parameters: schemas.Parameters{{Key: schemas.ParamState, Value: stateWords[strings.ToLower(m[2])]}},
			}, true
		},
	},
	{
		name: "assert element text",
		re:   pattern(`(.+?) should (have|contain|show|display|read|say|include|be|equal)(?: the)?(?: text| value| message)? ` + q),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			in := expectation(schemas.KindAssertText, m[2], m[3])
			if !isPageTarget(m[1]) {
				in.Target = parseTarget(m[1], hints)
			}
			return in, true
		},
	},
	{
		name: "assert visible",
		re:   pattern(`(.+?) should (?:be )?(?:visible|displayed|shown|present|appear|exist)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindAssertVisible, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "assert seen",
		re:   pattern(`i should see (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindAssertVisible, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "type into",
		re:   pattern(`(?:i )?(?:type|enter|input|write|put|fill in) ` + q + ` (?:in|into|on)(?: the)? (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return typing(m[2], m[1], hints), true
		},
	},
	{
		name: "fill with",
		re:   pattern(`(?:i )?(?:fill(?: in| out)?|set|populate|complete) (.+?) (?:with|to|as) ` + q),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return typing(m[1], m[2], hints), true
		},
	},
	{
		name: "type",
		re:   pattern(`(?:i )?(?:type|enter|input|write) ` + q),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return typing("it", m[1], hints), true
		},
	},
	{
		name: "clear",
		re:   pattern(`(?:i )?(?:clear|empty) (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return typing(m[1], `""`, hints), true
		},
	},
	{
		name: "select from",
		re:   pattern(`(?:i )?(?:select|choose|pick)(?: the)?(?: option)? ` + q + ` (?:from|in)(?: the)? (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{
				Kind:       schemas.KindSelect,
				Target:     parseTarget(m[2], hints),
				Parameters: schemas.Parameters{{Key: schemas.ParamValue, Value: textmatch.Unquote(m[1])}},
			}, true
		},
	},
	{
		name: "uncheck",
		re:   pattern(`(?:i )?(?:uncheck|untick|deselect|unselect) (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindUncheck, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "check",
		re:   pattern(`(?:i )?(?:check|tick|mark) (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindCheck, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "press key",
		re:   pattern(`(?:i )?(?:press|hit|push|tap)(?: the)? ` + keyNamesExpr + `(?: key| button)?(?: (?:in|on|into) (.+))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			in := schemas.Intent{
				Kind:       schemas.KindPress,
				Parameters: schemas.Parameters{{Key: schemas.ParamKey, Value: keyAliases[strings.ToLower(m[1])]}},
			}
			if m[2] != "" {
				in.Target = parseTarget(m[2], hints)
			}
			return in, true
		},
	},
	{
		name: "hover",
		re:   pattern(`(?:i )?(?:hover|mouse|move the mouse)(?: over| on| onto| to)? (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindHover, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "scroll page",
		re:   pattern(`(?:i )?scroll(?: the page)? (up|down|to(?: the)? top|to(?: the)? bottom)(?: of the page)?`),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			dir := strings.ToLower(m[1])
			switch {
			case strings.HasSuffix(dir, "top"):
				dir = "top"
			case strings.HasSuffix(dir, "bottom"):
				dir = "bottom"
			}
			return schemas.Intent{Kind: schemas.KindScroll, Parameters: schemas.Parameters{{Key: schemas.ParamDirection, Value: dir}}}, true
		},
	},
	{
		name: "scroll to",
		re:   pattern(`(?:i )?scroll(?: down| up)? to (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindScroll, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "wait time",
		re:   pattern(`(?:i )?(?:wait|pause|sleep)(?: for)? (\d+(?:\.\d+)?) ?(seconds?|secs?|s|milliseconds?|ms)`),
		build: func(m []string, _ schemas.ParseHints) (schemas.Intent, bool) {
			n, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return schemas.Intent{}, false
			}
			if unit := strings.ToLower(m[2]); unit == "ms" || strings.HasPrefix(unit, "milli") {
				n /= 1000
			}
			return schemas.Intent{Kind: schemas.KindWait, Parameters: schemas.Parameters{
				{Key: schemas.ParamCondition, Value: string(schemas.WaitTime)},
				{Key: schemas.ParamSeconds, Value: strconv.FormatFloat(n, 'f', -1, 64)},
			}}, true
		},
	},
	{
		name: "wait load",
		re:   pattern(`(?:i )?wait (?:for|until)(?: the)? page(?: to)? (?:load|loads|is loaded|to finish loading|finishes loading)`),
		build: func([]string, schemas.ParseHints) (schemas.Intent, bool) {
			return waiting(schemas.WaitLoad, schemas.TargetDescription{}), true
		},
	},
	{
		name: "wait disappear",
		re:   pattern(`(?:i )?wait (?:for|until) (.+?)(?: to)? (?:disappear|disappears|vanish|vanishes|be hidden|is hidden|is gone|to be gone)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return waiting(schemas.WaitDisappear, parseTarget(m[1], hints)), true
		},
	},
	{
		name: "wait appear",
		re:   pattern(`(?:i )?wait (?:for|until) (.+?)(?:(?: to)? (?:appear|appears|be visible|is visible|shows up|show up|is displayed))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return waiting(schemas.WaitAppear, parseTarget(m[1], hints)), true
		},
	},
	{
		name: "screenshot",
		re:   pattern(`(?:i )?(?:take|capture|grab|save)(?: a)? screenshot(?: of (.+?))?(?: as (\S+))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			in := schemas.Intent{Kind: schemas.KindScreenshot}
			if m[1] != "" && !isPageTarget(m[1]) {
				in.Target = parseTarget(m[1], hints)
			}
			if m[2] != "" {
				in.Parameters = schemas.Parameters{{Key: schemas.ParamName, Value: textmatch.Unquote(m[2])}}
			}
			return in, true
		},
	},
	{
		name: "capture",
		re:   pattern(`(?:i )?(?:remember|capture|save|store|note|record)(?: the)?(?: text| value)?(?: of| from)? (.+?) as (\S+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			name := strings.Trim(textmatch.Unquote(m[2]), "${}")
			if name == "" {
				return schemas.Intent{}, false
			}
			return schemas.Intent{
				Kind:       schemas.KindCapture,
				Target:     parseTarget(m[1], hints),
				Parameters: schemas.Parameters{{Key: schemas.ParamName, Value: name}},
			}, true
		},
	},
	{
		name: "click",
		re:   pattern(`(?:i )?(?:click|clicks|clicked|press|tap|hit|push|select|choose|activate|follow|open)(?: on)? (.+)`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			return schemas.Intent{Kind: schemas.KindClick, Target: parseTarget(m[1], hints)}, true
		},
	},
	{
		name: "submit",
		re:   pattern(`(?:i )?submit(?: the)?(?: (.+))?`),
		build: func(m []string, hints schemas.ParseHints) (schemas.Intent, bool) {
			target := schemas.TargetDescription{Phrase: "submit", Role: "button"}
			if region := strings.TrimSpace(m[1]); region != "" {
				target.Region = strings.ToLower(region)
			}
			return schemas.Intent{Kind: schemas.KindClick, Target: target}, true
		},
	},
}

// expectation builds a text, title or URL assertion from a verb and a quoted value.
func expectation(kind schemas.IntentKind, verb, quoted string) schemas.Intent {
	match := schemas.MatchContains
	switch strings.ToLower(verb) {
	case "be", "equal", "read":
		match = schemas.MatchEquals
	}
	if kind == schemas.KindAssertText && strings.EqualFold(verb, "read") {
		match = schemas.MatchContains
	}
	return schemas.Intent{Kind: kind, Parameters: schemas.Parameters{
		{Key: schemas.ParamExpected, Value: textmatch.Unquote(quoted)},
		{Key: schemas.ParamMatch, Value: match},
	}}
}

func typing(target, quoted string, hints schemas.ParseHints) schemas.Intent {
	return schemas.Intent{
		Kind:       schemas.KindType,
		Target:     parseTarget(target, hints),
		Parameters: schemas.Parameters{{Key: schemas.ParamText, Value: textmatch.Unquote(quoted)}},
	}
}

func waiting(kind schemas.WaitKind, target schemas.TargetDescription) schemas.Intent {
	return schemas.Intent{
		Kind:       schemas.KindWait,
		Target:     target,
		Parameters: schemas.Parameters{{Key: schemas.ParamCondition, Value: string(kind)}},
	}
}

// urlLike accepts quoted values as-is and otherwise only single tokens that
// look like an address, so "open the menu" is left to the click rule.
func urlLike(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if unq := textmatch.Unquote(raw); unq != raw {
		return strings.TrimSpace(unq), unq != ""
	}
	if strings.ContainsAny(raw, " \t") {
		return "", false
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "://"), strings.HasPrefix(lower, "/"), strings.HasPrefix(lower, "about:"),
		strings.HasPrefix(lower, "localhost"), strings.Contains(lower, "${"), strings.Contains(lower, "{{"):
		return raw, true
	case strings.Contains(lower, ".") && !strings.HasSuffix(lower, "."):
		return raw, true
	}
	return "", false
}

// NormalizeURL adds a scheme to bare hosts. Relative paths are left for the
// browser to resolve against the current page.
func NormalizeURL(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case raw == "", strings.Contains(lower, "://"), strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "."),
		strings.HasPrefix(lower, "about:"), strings.HasPrefix(lower, "data:"), strings.HasPrefix(lower, "file:"):
		return raw
	case strings.HasPrefix(lower, "localhost"), strings.HasPrefix(lower, "127.0.0.1"):
		return "http://" + raw
	}
	return "https://" + raw
}
