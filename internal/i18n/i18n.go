// Package i18n resolves localized messages for error responses.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

// Translator looks messages up by id for an Accept-Language header value.
type Translator struct {
	bundle   *goi18n.Bundle
	matcher  language.Matcher
	fallback language.Tag
}

// New loads the embedded catalogs. fallback is used when none of the
// requested languages has the message.
func New(fallback string) (*Translator, error) {
	return NewFromFS(builtin, "locales", fallback)
}

// NewFromFS loads every *.yaml catalog found in dir of fsys.
func NewFromFS(fsys fs.FS, dir, fallback string) (*Translator, error) {
	tag, err := language.Parse(strings.TrimSpace(fallback))
	if err != nil {
		return nil, fmt.Errorf("i18n: parse fallback %q: %w", fallback, err)
	}
	bundle := goi18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read catalogs: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(fsys, path.Join(dir, entry.Name())); err != nil {
			return nil, fmt.Errorf("i18n: load %s: %w", entry.Name(), err)
		}
	}
	return &Translator{
		bundle:   bundle,
		matcher:  language.NewMatcher(bundle.LanguageTags()),
		fallback: tag,
	}, nil
}

// Translate returns the localized message and true, or "" and false when no
// catalog (including the fallback) defines key.
func (t *Translator) Translate(acceptLanguage, key string, data map[string]any) (string, bool) {
	if t == nil || key == "" {
		return "", false
	}
	loc := goi18n.NewLocalizer(t.bundle, acceptLanguage, t.fallback.String())
	msg, err := loc.Localize(&goi18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil || msg == "" {
		return "", false
	}
	return msg, true
}

// Match picks the supported language that best serves acceptLanguage.
func (t *Translator) Match(acceptLanguage string) language.Tag {
	if t == nil {
		return language.Und
	}
	tag, _ := language.MatchStrings(t.matcher, acceptLanguage, t.fallback.String())
	base, _ := tag.Base()
	return language.Make(base.String())
}
