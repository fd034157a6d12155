package scheduler

import (
	"regexp"
	"strings"
)

// Curated vocabularies used to fingerprint resumes for grouping
var (
	languageTerms = []string{
		"go", "golang", "python", "java", "javascript", "typescript", "c++", "c#", "ruby",
		"php", "rust", "kotlin", "swift", "scala", "sql",
	}
	frameworkTerms = []string{
		"react", "angular", "vue", "django", "flask", "spring", "rails", "laravel",
		"node.js", "express", "gin", ".net", "fastapi", "next.js", "tensorflow", "pytorch",
	}
	platformTerms = []string{
		"aws", "azure", "gcp", "docker", "kubernetes", "terraform", "postgresql", "mysql",
		"mongodb", "redis", "kafka", "spark", "hadoop", "snowflake", "airflow", "rabbitmq",
	}
	domainTerms = []string{
		"backend", "frontend", "fullstack", "devops", "sre", "security", "qa",
		"data scientist", "data engineer", "machine learning", "product manager",
		"project management", "designer", "mobile", "embedded", "analyst",
	}
)

var (
	tokenPattern = regexp.MustCompile(`[a-z0-9+#.]+`)
	vocabulary   = buildVocabulary()
)

type vocab struct {
	single  map[string]struct{}
	phrases []string
}

func buildVocabulary() vocab {
	v := vocab{single: make(map[string]struct{})}
	for _, list := range [][]string{languageTerms, frameworkTerms, platformTerms, domainTerms} {
		for _, term := range list {
			if strings.Contains(term, " ") {
				v.phrases = append(v.phrases, term)
				continue
			}
			v.single[term] = struct{}{}
		}
	}
	return v
}

// extractKeywords returns the vocabulary terms present in text
func extractKeywords(text string) map[string]struct{} {
	lower := strings.ToLower(text)
	found := make(map[string]struct{})

	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		tok = strings.TrimRight(tok, ".")
		if _, ok := vocabulary.single[tok]; ok {
			found[tok] = struct{}{}
		}
	}
	for _, phrase := range vocabulary.phrases {
		if strings.Contains(lower, phrase) {
			found[phrase] = struct{}{}
		}
	}
	return found
}

// jaccard is |a∩b| / |a∪b|; two empty sets are identical
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// groupItems clusters items by keyword similarity to a seed item. Clusters
// smaller than minSize are pooled into one remainder group placed last.
func groupItems(items []Item, threshold float64, minSize int) [][]Item {
	keywords := make([]map[string]struct{}, len(items))
	for i, it := range items {
		keywords[i] = extractKeywords(it.Text)
	}

	assigned := make([]bool, len(items))
	var groups [][]Item
	var remainder []Item

	for seed := range items {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		cluster := []Item{items[seed]}

		for j := seed + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			if jaccard(keywords[seed], keywords[j]) >= threshold {
				assigned[j] = true
				cluster = append(cluster, items[j])
			}
		}

		if len(cluster) < minSize {
			remainder = append(remainder, cluster...)
			continue
		}
		groups = append(groups, cluster)
	}

	if len(remainder) > 0 {
		groups = append(groups, remainder)
	}
	return groups
}
