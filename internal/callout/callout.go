// Package callout rewrites theorem-style keywords such as \theorem into
// admonition headers and expands user defined aliases.
package callout

import (
	"fmt"
	"sort"
	"strings"
)

// Labels are the admonition titles used for each theorem keyword.
type Labels struct {
	Theorem     string `yaml:"theorem"`
	Lemma       string `yaml:"lemma"`
	Proposition string `yaml:"proposition"`
	Definition  string `yaml:"definition"`
	Proof       string `yaml:"proof"`
	Exercise    string `yaml:"exercise"`
}

// DefaultLabels returns the stock titles.
func DefaultLabels() Labels {
	return Labels{
		Theorem:     "定理",
		Lemma:       "引理",
		Proposition: "命题",
		Definition:  "定义",
		Proof:       "证明",
		Exercise:    "习题",
	}
}

// Rule replaces every unescaped \Name with Replacement.
type Rule struct {
	Name        string
	Replacement string
}

// TheoremRules maps each keyword to its admonition header.
func TheoremRules(l Labels) []Rule {
	return []Rule{
		{Name: "theorem", Replacement: fmt.Sprintf(`!!! success "%s"`, l.Theorem)},
		{Name: "lemma", Replacement: fmt.Sprintf(`!!! success "%s"`, l.Lemma)},
		{Name: "proposition", Replacement: fmt.Sprintf(`!!! success "%s"`, l.Proposition)},
		{Name: "definition", Replacement: fmt.Sprintf(`!!! info "%s"`, l.Definition)},
		{Name: "proof", Replacement: fmt.Sprintf(`???+ info "%s"`, l.Proof)},
		{Name: "exercise", Replacement: fmt.Sprintf(`!!! question "%s"`, l.Exercise)},
	}
}

// AliasRules turns an alias table into rules ordered by name.
func AliasRules(aliases map[string]string) []Rule {
	rules := make([]Rule, 0, len(aliases))
	for name, repl := range aliases {
		name = strings.TrimPrefix(strings.TrimSpace(name), `\`)
		if name == "" {
			continue
		}
		rules = append(rules, Rule{Name: name, Replacement: repl})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// Apply runs each rule over doc in order.
func Apply(doc string, rules []Rule) string {
	for _, r := range rules {
		doc = substitute(doc, r.Name, r.Replacement)
	}
	return doc
}

// substitute replaces \name with repl and unescapes \\name to \name. A name
// followed by another ASCII letter is a different control word and is kept.
func substitute(doc, name, repl string) string {
	token := `\` + name
	if !strings.Contains(doc, token) {
		return doc
	}

	var out strings.Builder
	out.Grow(len(doc))
	cursor := 0
	for {
		idx := strings.Index(doc[cursor:], token)
		if idx < 0 {
			out.WriteString(doc[cursor:])
			return out.String()
		}
		pos := cursor + idx
		end := pos + len(token)

		switch {
		case end < len(doc) && isLetter(doc[end]) && isLetter(token[len(token)-1]):
			out.WriteString(doc[cursor:end])
		case pos > 0 && doc[pos-1] == '\\':
			out.WriteString(doc[cursor : pos-1])
			out.WriteString(token)
		default:
			out.WriteString(doc[cursor:pos])
			out.WriteString(repl)
		}
		cursor = end
	}
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
