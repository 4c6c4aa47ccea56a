package source

import (
	"context"
	"iter"
	"strings"
)

// CompletionField is the body key that receives completion inputs.
const CompletionField = "complete"

// defaultLanguage keys completion inputs derived from plain string fields.
const defaultLanguage = "default"

// WithCompletion decorates src so every document carries completion
// suggester inputs under complete.<lang>. Fields hold either a plain string
// or a localized object such as {"en": "...", "fr": "..."}; each text
// contributes itself and every word suffix, so "Introduction to Go" can be
// completed from "Intro", "to" or "Go".
func WithCompletion(src Source, fields ...string) Source {
	return Func(func(ctx context.Context) iter.Seq2[Document, error] {
		return func(yield func(Document, error) bool) {
			for d, err := range src.Documents(ctx) {
				if err == nil {
					addCompletion(d.Body, fields)
				}
				if !yield(d, err) {
					return
				}
			}
		}
	})
}

func addCompletion(body map[string]any, fields []string) {
	byLang := make(map[string][]string)
	for _, field := range fields {
		switch v := body[field].(type) {
		case string:
			byLang[defaultLanguage] = append(byLang[defaultLanguage], Suffixes(v)...)
		case map[string]any:
			for lang, text := range v {
				if s, ok := text.(string); ok {
					byLang[lang] = append(byLang[lang], Suffixes(s)...)
				}
			}
		}
	}
	if len(byLang) == 0 {
		return
	}
	complete := make(map[string]any, len(byLang))
	for lang, inputs := range byLang {
		complete[lang] = dedupe(inputs)
	}
	body[CompletionField] = complete
}

// Suffixes returns text followed by each of its word suffixes.
func Suffixes(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for i := range words {
		out = append(out, strings.Join(words[i:], " "))
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

