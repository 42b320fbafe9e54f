package i18n

import (
	"embed"
	"log"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

// Translator renders the user-facing messages of the API from the embedded
// active.*.toml catalogs.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
}

func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := localeFS.ReadDir(".")
	if err != nil {
		log.Printf("i18n: failed to list catalogs: %v", err)
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file.Name()); err != nil {
			log.Printf("i18n: failed to load %s: %v", file.Name(), err)
		}
	}

	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
	}
}

// T renders key for locale, falling back to the default locale and finally
// to the key itself.
func (t *Translator) T(locale, key string, data map[string]any) string {
	return t.localize(locale, key, data, nil)
}

// Plural renders key in the default locale choosing the plural form for
// count. count is also available to the template as .Count.
func (t *Translator) Plural(key string, count int, data map[string]any) string {
	d := map[string]any{"Count": count}
	for k, v := range data {
		d[k] = v
	}
	return t.localize("", key, d, count)
}

func (t *Translator) localize(locale, key string, data map[string]any, pluralCount any) string {
	if key == "" {
		return ""
	}

	languages := []string{}
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	localizer := i18n.NewLocalizer(t.bundle, languages...)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
		PluralCount:  pluralCount,
	})
	if err != nil {
		log.Printf("i18n: localize failed (key=%s, locales=%v): %v", key, languages, err)
		return key
	}
	return msg
}

// Msg renders key in the default locale.
func (t *Translator) Msg(key string, data ...map[string]any) string {
	var d map[string]any
	if len(data) > 0 {
		d = data[0]
	}
	return t.T("", key, d)
}
