package pipeline

import (
	"strings"

	"counterpoint/models"

	lingua "github.com/pemistahl/lingua-go"
)

// languageGate keeps articles outside the configured languages away from
// the classifiers, whose prompts assume languages they were checked
// against. A nil gate allows everything.
type languageGate struct {
	detector lingua.LanguageDetector
	allowed  map[lingua.Language]struct{}
}

func newLanguageGate(codes []string) *languageGate {
	if len(codes) == 0 {
		return nil
	}

	allowed := make(map[lingua.Language]struct{})
	for _, code := range codes {
		if lang, ok := isoToLingua(code); ok {
			allowed[lang] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(lingua.AllLanguages()...).
		WithMinimumRelativeDistance(0.25).
		Build()

	return &languageGate{detector: detector, allowed: allowed}
}

func isoToLingua(code string) (lingua.Language, bool) {
	for _, lang := range lingua.AllLanguages() {
		if strings.EqualFold(lang.IsoCode639_1().String(), code) {
			return lang, true
		}
	}
	return lingua.Unknown, false
}

func (g *languageGate) allows(article models.Article) bool {
	text := article.Title
	if article.Summary != "" {
		text += " " + article.Summary
	}

	lang, exists := g.detector.DetectLanguageOf(text)
	if !exists {
		// Uncertain detection never blocks analysis
		return true
	}

	_, ok := g.allowed[lang]
	return ok
}
