/*
File: features.go
Version: 1.4.0
Description: Lexical feature extraction for URL classification.
             Pure and deterministic: no network or filesystem access, so the
             serving-side vectors always match what the model was trained on.
*/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// suspiciousKeywords is the fixed keyword list the model was trained against.
// Each keyword contributes at most 1 to suspicious_keyword_count.
var suspiciousKeywords = []string{
	"login", "verify", "account", "update", "secure", "webscr", "confirm",
	"bank", "paypal", "signin", "ebay", "alert", "credential", "validation",
}

var (
	ipPrefixRegex = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}`)
	hexRunRegex   = regexp.MustCompile(`[0-9a-fA-F]{6,}`)
	tokenSplit    = regexp.MustCompile(`\W+`)
)

// featureOrder is the extractor's natural column order. Bundles without an
// explicit feature list are served vectors in exactly this order.
var featureOrder = []string{
	"url_length",
	"domain_length",
	"path_length",
	"count_digits",
	"count_letters",
	"count_dots",
	"count_hyphen",
	"count_at",
	"count_question",
	"count_equals",
	"count_percent",
	"count_slash",
	"count_colon",
	"entropy",
	"digit_ratio",
	"letter_ratio",
	"has_ip_domain",
	"hex_sequence",
	"suspicious_keyword_count",
	"long_token_count",
	"subdomain_count",
	"tld_length",
	"contains_https_token",
	"contains_login_token",
	"contains_secure_token",
	"contains_verify_token",
}

// FeatureMapping is an insertion-ordered name -> value mapping. A fresh
// instance is built per URL and never mutated after extraction returns.
type FeatureMapping struct {
	names  []string
	values map[string]float64
}

func newFeatureMapping(capacity int) *FeatureMapping {
	return &FeatureMapping{
		names:  make([]string, 0, capacity),
		values: make(map[string]float64, capacity),
	}
}

func (m *FeatureMapping) set(name string, value float64) {
	if _, exists := m.values[name]; !exists {
		m.names = append(m.names, name)
	}
	m.values[name] = value
}

// Names returns the feature names in insertion order.
func (m *FeatureMapping) Names() []string {
	return m.names
}

// Get returns the value for name and whether it is present.
func (m *FeatureMapping) Get(name string) (float64, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m *FeatureMapping) Len() int {
	return len(m.names)
}

// UnmarshalJSON restores a mapping from a JSON object, keeping the object's
// key order as the insertion order so a persisted mapping aligns the same
// way a freshly extracted one does.
func (m *FeatureMapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("feature mapping: expected JSON object")
	}

	m.names = m.names[:0]
	m.values = make(map[string]float64)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("feature mapping: non-string key")
		}
		var value float64
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("feature mapping: value for %s: %w", name, err)
		}
		m.set(name, value)
	}

	_, err = dec.Token()
	return err
}

// MarshalJSON renders the mapping as a JSON object in insertion order.
func (m *FeatureMapping) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			sb.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		sb.Write(key)
		sb.WriteByte(':')
		val, err := json.Marshal(m.values[name])
		if err != nil {
			return nil, err
		}
		sb.Write(val)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// NormalizeURL trims whitespace and ensures a scheme is present.
// Idempotent: a URL that already carries http:// or https:// is only trimmed.
func NormalizeURL(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "http://" + raw
	}
	return raw
}

// ExtractFeatures derives the lexical feature mapping for a URL.
// Total function: any input string yields a complete mapping.
func ExtractFeatures(rawURL string) *FeatureMapping {
	raw := NormalizeURL(rawURL)
	lower := strings.ToLower(raw)

	noScheme := raw
	if strings.HasPrefix(noScheme, "https://") {
		noScheme = noScheme[len("https://"):]
	} else if strings.HasPrefix(noScheme, "http://") {
		noScheme = noScheme[len("http://"):]
	}

	domain := noScheme
	path := ""
	if idx := strings.IndexByte(noScheme, '/'); idx >= 0 {
		domain = noScheme[:idx]
		path = noScheme[idx:]
	}

	runes := []rune(raw)
	length := len(runes)

	digits := 0
	letters := 0
	for _, r := range runes {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}

	denom := length
	if denom < 1 {
		denom = 1
	}

	keywordCount := 0
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			keywordCount++
		}
	}

	longTokens := 0
	for _, token := range tokenSplit.Split(raw, -1) {
		if len([]rune(token)) > 15 {
			longTokens++
		}
	}

	tldLength := 0
	if idx := strings.LastIndexByte(domain, '.'); idx >= 0 {
		tldLength = len([]rune(domain[idx+1:]))
	}

	afterScheme := ""
	if len(raw) > 8 {
		afterScheme = strings.ToLower(raw[8:])
	}

	m := newFeatureMapping(len(featureOrder))
	m.set("url_length", float64(length))
	m.set("domain_length", float64(len([]rune(domain))))
	m.set("path_length", float64(len([]rune(path))))
	m.set("count_digits", float64(digits))
	m.set("count_letters", float64(letters))
	m.set("count_dots", float64(strings.Count(raw, ".")))
	m.set("count_hyphen", float64(strings.Count(raw, "-")))
	m.set("count_at", float64(strings.Count(raw, "@")))
	m.set("count_question", float64(strings.Count(raw, "?")))
	m.set("count_equals", float64(strings.Count(raw, "=")))
	m.set("count_percent", float64(strings.Count(raw, "%")))
	m.set("count_slash", float64(strings.Count(raw, "/")))
	m.set("count_colon", float64(strings.Count(raw, ":")))
	m.set("entropy", shannonEntropy(raw))
	m.set("digit_ratio", float64(digits)/float64(denom))
	m.set("letter_ratio", float64(letters)/float64(denom))
	m.set("has_ip_domain", boolFeature(ipPrefixRegex.MatchString(domain)))
	m.set("hex_sequence", boolFeature(hexRunRegex.MatchString(raw)))
	m.set("suspicious_keyword_count", float64(keywordCount))
	m.set("long_token_count", float64(longTokens))
	m.set("subdomain_count", float64(strings.Count(domain, ".")))
	m.set("tld_length", float64(tldLength))
	m.set("contains_https_token", boolFeature(strings.Contains(afterScheme, "https")))
	m.set("contains_login_token", boolFeature(strings.Contains(lower, "login")))
	m.set("contains_secure_token", boolFeature(strings.Contains(lower, "secure")))
	m.set("contains_verify_token", boolFeature(strings.Contains(lower, "verify")))
	return m
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// shannonEntropy computes character entropy over the byte distribution.
// Zero-alloc stack array; URLs are effectively ASCII.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}

	var entropy float64
	total := float64(len(s))

	for _, count := range counts {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
