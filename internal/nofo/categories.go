package nofo

import (
	"path"
	"strings"
	"time"
)

// categoryVocabulary maps normalized source tags to display categories.
// Category mapping is mandatory: opportunities whose tags all miss this
// table are skipped outright.
var categoryVocabulary = map[string]string{
	"health":                       "Health",
	"education":                    "Education",
	"transportation":               "Transportation",
	"energy":                       "Energy",
	"environment":                  "Environment",
	"natural resources":            "Environment",
	"housing":                      "Housing",
	"community development":        "Community Development",
	"regional development":         "Community Development",
	"public safety":                "Public Safety",
	"law justice and legal services": "Public Safety",
	"employment labor and training": "Workforce Development",
	"agriculture":                  "Agriculture",
	"food and nutrition":           "Food and Nutrition",
	"science and technology":       "Science and Technology",
	"arts":                         "Arts and Culture",
	"humanities":                   "Arts and Culture",
	"disaster prevention and relief": "Disaster Prevention and Relief",
	"infrastructure":               "Infrastructure",
	"income security and social services": "Social Services",
}

func normalizeTag(tag string) string {
	s := strings.ToLower(strings.TrimSpace(tag))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), " ")
}

// MapCategory returns the display category for the first tag present in the
// vocabulary. ok is false when no tag maps.
func MapCategory(tags []string) (string, bool) {
	for _, tag := range tags {
		if mapped, ok := categoryVocabulary[normalizeTag(tag)]; ok {
			return mapped, true
		}
	}
	return "", false
}

// NormalizeDate reduces a source date to YYYY-MM-DD. Already-normalized
// inputs pass through unchanged; unparseable inputs yield "".
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format("2006-01-02")
	}
	return ""
}

// FileType classifies a file name or download path as "pdf", "html", or ""
// for anything the pipeline does not ingest.
func FileType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	default:
		return ""
	}
}

// SanitizeTitle collapses whitespace in an opportunity title so it can serve
// as an object key segment and metadata row key.
func SanitizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(title)), " ")
}
