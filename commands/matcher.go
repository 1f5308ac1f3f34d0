package commands

import (
	"regexp"
	"strings"

	"twitch-chat-bot/model"
)

// Match — команда, распознанная в сообщении, и её аргументы.
type Match struct {
	Definition *model.CommandDefinition
	Args       []string
}

type matcherEntry struct {
	def    *model.CommandDefinition
	format string
	tokens int
	re     *regexp.Regexp
}

// Matcher сопоставляет текст сообщения с зарегистрированными командами.
type Matcher struct {
	entries []matcherEntry
}

var (
	quotedNumeric = regexp.QuoteMeta(model.NumericPlaceholder)
	quotedText    = regexp.QuoteMeta(model.TextPlaceholder)
)

// NewMatcher компилирует шаблоны команд. Порядок defs — порядок приоритета.
func NewMatcher(defs []model.CommandDefinition) *Matcher {
	m := &Matcher{entries: make([]matcherEntry, 0, len(defs))}
	for i := range defs {
		def := defs[i]
		tokens := strings.Fields(def.Format)
		if len(tokens) == 0 {
			continue
		}
		m.entries = append(m.entries, matcherEntry{
			def:    &def,
			format: strings.ToLower(def.Format),
			tokens: len(tokens),
			re:     formatRegexp(tokens),
		})
	}
	return m
}

// Definitions возвращает команды в порядке регистрации.
func (m *Matcher) Definitions() []*model.CommandDefinition {
	out := make([]*model.CommandDefinition, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.def)
	}
	return out
}

// Match ищет первую команду, в формате которой встречается первое слово сообщения
// и у которой столько же слов. Если строгая проверка регулярным выражением
// не проходит, сообщение отбрасывается целиком.
func (m *Matcher) Match(text string) (Match, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Match{}, false
	}
	candidate := strings.ToLower(fields[0])

	for _, e := range m.entries {
		if e.tokens != len(fields) || !strings.Contains(e.format, candidate) {
			continue
		}

		groups := e.re.FindStringSubmatch(strings.TrimSpace(text))
		if groups == nil {
			return Match{}, false
		}
		return Match{Definition: e.def, Args: groups[1:]}, true
	}
	return Match{}, false
}

func formatRegexp(tokens []string) *regexp.Regexp {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		p := regexp.QuoteMeta(tok)
		p = strings.ReplaceAll(p, quotedNumeric, `(\d+)`)
		p = strings.ReplaceAll(p, quotedText, `@?(\w+)`)
		parts[i] = p
	}
	return regexp.MustCompile(`(?i)^` + strings.Join(parts, `\s+`) + `$`)
}
