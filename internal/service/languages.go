package service

import "github.com/sakif/amstig/internal/model"

// SupportedLanguage is the only language the sandbox executes.
const SupportedLanguage = "javascript"

// catalogue is static; only SupportedLanguage is runnable.
var catalogue = []model.Language{
	{Name: "JavaScript", ID: "javascript", Version: "ES6+", Supported: true},
	{Name: "Python", ID: "python", Version: "3.x", Supported: false, ComingSoon: true},
	{Name: "Java", ID: "java", Version: "11+", Supported: false, ComingSoon: true},
}

// Languages returns a copy of the language catalogue.
func Languages() []model.Language {
	out := make([]model.Language, len(catalogue))
	copy(out, catalogue)
	return out
}
