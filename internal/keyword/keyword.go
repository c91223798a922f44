// Package keyword evaluates outage-indicating keywords and regex
// patterns against normalized page text.
//
// Keyword lists come in three layers: a global list applied to every
// endpoint, per-domain lists selected by exact hostname or a
// "*.suffix" wildcard, and regex patterns with per-pattern flags.
// Domain lists supplement the global list; when several domain
// patterns match a host, all of their keywords apply.
package keyword

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// RegexRule is one raw regex entry from configuration.
type RegexRule struct {
	Pattern string `mapstructure:"pattern"`
	Flags   string `mapstructure:"flags"`
}

// RuleSet is the raw keyword configuration before compilation.
type RuleSet struct {
	Global  []string            `mapstructure:"global_keywords"`
	Domains map[string][]string `mapstructure:"domains"`
	Regex   []RegexRule         `mapstructure:"regex_keywords"`
}

type compiledRegex struct {
	pattern string
	re      *regexp.Regexp
}

// Matcher holds a compiled, immutable keyword configuration.
type Matcher struct {
	global          []string
	domains         map[string][]string
	regexes         []compiledRegex
	caseInsensitive bool
}

// Compile validates the rule set and compiles its regex patterns.
// Invalid patterns are logged and skipped; the rest of the set is
// unaffected. When caseInsensitive is set it becomes the default flag
// for every pattern, unioned with the per-pattern flags.
func Compile(rs RuleSet, caseInsensitive bool, logger *zap.Logger) *Matcher {
	m := &Matcher{
		global:          append([]string(nil), rs.Global...),
		domains:         make(map[string][]string, len(rs.Domains)),
		caseInsensitive: caseInsensitive,
	}
	for pattern, kws := range rs.Domains {
		m.domains[strings.ToLower(pattern)] = append([]string(nil), kws...)
	}
	for _, rule := range rs.Regex {
		re, err := compilePattern(rule, caseInsensitive)
		if err != nil {
			logger.Warn("skipping invalid regex keyword",
				zap.String("pattern", rule.Pattern), zap.Error(err))
			continue
		}
		m.regexes = append(m.regexes, compiledRegex{pattern: rule.Pattern, re: re})
	}
	return m
}

func compilePattern(rule RegexRule, caseInsensitiveDefault bool) (*regexp.Regexp, error) {
	var prefix strings.Builder
	if caseInsensitiveDefault || strings.Contains(rule.Flags, "i") {
		prefix.WriteString("(?i)")
	}
	if strings.Contains(rule.Flags, "s") {
		prefix.WriteString("(?s)")
	}
	if strings.Contains(rule.Flags, "m") {
		prefix.WriteString("(?m)")
	}
	re, err := regexp.Compile(prefix.String() + rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile regex keyword: %w", err)
	}
	return re, nil
}

// ForDomain returns the keywords applicable to the given host: the
// global list plus every domain entry whose pattern matches. An exact
// hostname entry and any number of "*.suffix" wildcard entries all
// contribute.
func (m *Matcher) ForDomain(domain string) []string {
	domain = strings.ToLower(domain)
	selected := append([]string(nil), m.global...)
	if kws, ok := m.domains[domain]; ok {
		selected = append(selected, kws...)
	}
	for pattern, kws := range m.domains {
		if !strings.HasPrefix(pattern, "*.") {
			continue
		}
		// "*.go.kr" matches "www.data.go.kr" but not "go.kr.example.com".
		if strings.HasSuffix(domain, pattern[1:]) {
			selected = append(selected, kws...)
		}
	}
	return selected
}

// Match scans normalized body text and title against the given
// literal keywords and every compiled regex. Each hit emits one tag;
// body and title hits are tagged separately and items are never
// short-circuited against each other.
func (m *Matcher) Match(body, title string, keywords []string) []string {
	var tags []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		cmp := kw
		if m.caseInsensitive {
			cmp = strings.ToLower(kw)
		}
		if strings.Contains(body, cmp) {
			tags = append(tags, "body:"+kw)
		}
		if title != "" && strings.Contains(title, cmp) {
			tags = append(tags, "title:"+kw)
		}
	}
	for _, cr := range m.regexes {
		if cr.re.MatchString(body) {
			tags = append(tags, "regex:"+cr.pattern)
		}
		if title != "" && cr.re.MatchString(title) {
			tags = append(tags, "title-regex:"+cr.pattern)
		}
	}
	return tags
}
