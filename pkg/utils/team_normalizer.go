package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMatchThreshold is the minimum similarity for a fuzzy participant match
const DefaultMatchThreshold = 0.75

// TeamNameNormalizer handles normalization of participant names for matching
// feed names against stored profiles
type TeamNameNormalizer struct {
	commonSuffixes []string
	commonPrefixes []string
	replacements   []replacement
	spaceRegex     *regexp.Regexp
}

type replacement struct {
	old, new string
}

// NewTeamNameNormalizer creates a new team name normalizer
func NewTeamNameNormalizer() *TeamNameNormalizer {
	return &TeamNameNormalizer{
		commonSuffixes: []string{
			"FC", "SC", "AC", "SK", "FK", "CF", "IF", "SV", "TSV",
			"Spor Kulubu", "Kulubu", "Spor",
			"Club", "Team", "Futbol",
		},
		commonPrefixes: []string{
			"FC", "AC", "SC", "CF", "Club", "AS", "US", "NK",
		},
		// Longer phrases first so "Spor Kulübü" is not split by "Spor".
		replacements: []replacement{
			{"Futbol Kulübü", ""},
			{"Spor Kulübü", ""},
			{"Kulübü", ""},
			{"&", "and"},
			{"Sankt", "St"},
			{"Saint", "St"},
			{"ç", "c"}, {"Ç", "C"},
			{"ğ", "g"}, {"Ğ", "G"},
			{"ı", "i"}, {"İ", "I"},
			{"ö", "o"}, {"Ö", "O"},
			{"ş", "s"}, {"Ş", "S"},
			{"ü", "u"}, {"Ü", "U"},
			{"â", "a"}, {"î", "i"}, {"û", "u"},
		},
		spaceRegex: regexp.MustCompile(`\s+`),
	}
}

// Normalize strips club decorations and folds Turkish characters
func (n *TeamNameNormalizer) Normalize(teamName string) string {
	if teamName == "" {
		return ""
	}

	normalized := strings.TrimSpace(teamName)
	for _, r := range n.replacements {
		normalized = strings.ReplaceAll(normalized, r.old, r.new)
	}
	normalized = n.spaceRegex.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	normalized = n.removePrefixes(normalized)
	normalized = n.removeSuffixes(normalized)

	return strings.TrimSpace(n.spaceRegex.ReplaceAllString(normalized, " "))
}

// Key returns the lookup key for a name: its normalized form, lower-cased
func (n *TeamNameNormalizer) Key(teamName string) string {
	return strings.ToLower(n.Normalize(teamName))
}

func (n *TeamNameNormalizer) removePrefixes(name string) string {
	for _, prefix := range n.commonPrefixes {
		p := prefix + " "
		if len(name) > len(p) && strings.EqualFold(name[:len(p)], p) {
			return strings.TrimSpace(name[len(p):])
		}
	}
	return name
}

func (n *TeamNameNormalizer) removeSuffixes(name string) string {
	for _, suffix := range n.commonSuffixes {
		s := " " + suffix
		if len(name) > len(s) && strings.EqualFold(name[len(name)-len(s):], s) {
			return strings.TrimSpace(name[:len(name)-len(s)])
		}
	}
	return name
}

// ExtractKeywords extracts meaningful keywords from a team name
func (n *TeamNameNormalizer) ExtractKeywords(teamName string) []string {
	stopWords := map[string]bool{
		"the": true, "of": true, "and": true, "de": true, "del": true,
		"la": true, "le": true, "el": true, "van": true, "von": true,
	}

	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(n.Normalize(teamName))) {
		cleaned := cleanWord(word)
		if len(cleaned) > 2 && !stopWords[cleaned] {
			keywords = append(keywords, cleaned)
		}
	}
	return keywords
}

func cleanWord(word string) string {
	var result strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CompareNormalized returns a similarity score between 0 and 1
func (n *TeamNameNormalizer) CompareNormalized(name1, name2 string) float64 {
	norm1 := strings.ToLower(n.Normalize(name1))
	norm2 := strings.ToLower(n.Normalize(name2))
	if norm1 == "" || norm2 == "" {
		return 0.0
	}

	if norm1 == norm2 {
		return 1.0
	}
	if strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1) {
		return 0.9
	}

	keywords1 := n.ExtractKeywords(norm1)
	keywords2 := n.ExtractKeywords(norm2)
	if len(keywords1) == 0 || len(keywords2) == 0 {
		return 0.0
	}

	keywordMap := make(map[string]bool, len(keywords1))
	for _, kw := range keywords1 {
		keywordMap[kw] = true
	}
	common := 0
	for _, kw := range keywords2 {
		if keywordMap[kw] {
			common++
		}
	}

	// Jaccard similarity
	union := len(keywords1) + len(keywords2) - common
	if union == 0 {
		return 0.0
	}
	return float64(common) / float64(union)
}

// NameIndex resolves participant names to profile ids
type NameIndex struct {
	normalizer *TeamNameNormalizer
	threshold  float64
	byKey      map[string]string
	names      map[string]string // id -> original name
}

// NewNameIndex creates an empty index. threshold <= 0 uses DefaultMatchThreshold.
func NewNameIndex(normalizer *TeamNameNormalizer, threshold float64) *NameIndex {
	if normalizer == nil {
		normalizer = NewTeamNameNormalizer()
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &NameIndex{
		normalizer: normalizer,
		threshold:  threshold,
		byKey:      make(map[string]string),
		names:      make(map[string]string),
	}
}

// Add registers a profile name. The first id registered for a key wins.
func (x *NameIndex) Add(id, name string) {
	if id == "" || name == "" {
		return
	}
	key := x.normalizer.Key(name)
	if key == "" {
		return
	}
	if _, exists := x.byKey[key]; !exists {
		x.byKey[key] = id
	}
	x.names[id] = name
}

// Len returns the number of indexed profiles
func (x *NameIndex) Len() int {
	return len(x.names)
}

// Resolve returns the profile id for a name: exact normalized match first,
// then the most similar name at or above the threshold. Ties are ambiguous
// and resolve to nothing.
func (x *NameIndex) Resolve(name string) (string, bool) {
	key := x.normalizer.Key(name)
	if key == "" {
		return "", false
	}
	if id, ok := x.byKey[key]; ok {
		return id, true
	}

	bestID, bestScore, ambiguous := "", 0.0, false
	for id, candidate := range x.names {
		score := x.normalizer.CompareNormalized(name, candidate)
		switch {
		case score > bestScore:
			bestID, bestScore, ambiguous = id, score, false
		case score == bestScore && score > 0 && id != bestID:
			ambiguous = true
		}
	}
	if bestScore < x.threshold || ambiguous {
		return "", false
	}
	return bestID, true
}
