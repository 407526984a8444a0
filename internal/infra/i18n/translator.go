package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

// DefaultLanguage backs every other locale: keys it lacks fall through to it.
const DefaultLanguage = "en"

// Translator resolves payer-facing message keys for one language.
type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator loads langCode from fsys on top of the default language.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	langCode = strings.ToLower(strings.TrimSpace(langCode))
	if langCode == "" {
		langCode = DefaultLanguage
	}

	fallback, err := readLocale(fsys, DefaultLanguage)
	if err != nil {
		return nil, err
	}
	t := &Translator{lang: langCode, translations: fallback, fallback: fallback}
	if langCode == DefaultLanguage {
		return t, nil
	}

	translations, err := readLocale(fsys, langCode)
	if err != nil {
		return nil, err
	}
	t.translations = translations
	return t, nil
}

func readLocale(fsys fs.FS, langCode string) (map[string]string, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return parseLocale(data)
}

func parseLocale(data []byte) (map[string]string, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return translations, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	translations, err := parseLocale(data)
	if err != nil {
		return nil, err
	}
	return &Translator{lang: "test", translations: translations}, nil
}

// T formats key with args. Unknown keys are returned as-is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Language() string { return t.lang }

// Languages lists the locale codes available in fsys.
func Languages(fsys fs.FS) []string {
	matches, _ := fs.Glob(fsys, "locales/*.yaml")
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(path.Base(m), ".yaml"))
	}
	sort.Strings(out)
	return out
}
