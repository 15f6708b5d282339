// internal/i18n/i18n.go
package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type I18n struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
	defaultLang  string
}

var instance *I18n
var once sync.Once

// Initialize loads every <lang>.json under localesPath once per process.
func Initialize(localesPath, defaultLang string) error {
	var err error
	once.Do(func() {
		if defaultLang == "" {
			defaultLang = "en"
		}
		instance = &I18n{
			translations: make(map[string]map[string]string),
			defaultLang:  defaultLang,
		}
		err = instance.LoadTranslations(localesPath)
	})
	return err
}

func (i *I18n) LoadTranslations(localesPath string) error {
	files, err := filepath.Glob(filepath.Join(localesPath, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list locale files in %s: %w", localesPath, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no locale files found in %s", localesPath)
	}

	for _, filePath := range files {
		lang := strings.TrimSuffix(filepath.Base(filePath), ".json")

		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read locale file %s: %w", filePath, err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return fmt.Errorf("failed to unmarshal locale file %s: %w", filePath, err)
		}

		i.mu.Lock()
		i.translations[lang] = translations
		i.mu.Unlock()
	}

	return nil
}

// Lookup returns the translation for key, falling back to the default
// language. ok is false when neither has the key.
func (i *I18n) Lookup(lang, key string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if text, exists := i.translations[lang][key]; exists {
		return text, true
	}
	if lang != i.defaultLang {
		if text, exists := i.translations[i.defaultLang][key]; exists {
			return text, true
		}
	}
	return "", false
}

func (i *I18n) T(lang, key string, args ...interface{}) string {
	text, ok := i.Lookup(lang, key)
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// Global functions
func T(lang, key string, args ...interface{}) string {
	if instance != nil {
		return instance.T(lang, key, args...)
	}
	return key
}

// TOr translates key, or returns fallback when no locale carries it.
func TOr(lang, key, fallback string) string {
	if instance == nil {
		return fallback
	}
	if text, ok := instance.Lookup(lang, key); ok {
		return text
	}
	return fallback
}

func GetSupportedLanguages() []string {
	if instance == nil {
		return []string{"en"}
	}

	instance.mu.RLock()
	defer instance.mu.RUnlock()

	langs := make([]string, 0, len(instance.translations))
	for lang := range instance.translations {
		langs = append(langs, lang)
	}
	return langs
}
