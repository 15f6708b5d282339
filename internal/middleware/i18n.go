// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/i18n"
)

// I18nMiddleware stores the caller's language under "lang". Unsupported
// languages fall back to defaultLang.
func I18nMiddleware(defaultLang string) gin.HandlerFunc {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return func(c *gin.Context) {
		lang := defaultLang

		// Handle cases like "zh-TW,zh;q=0.9,en;q=0.8"
		if header := c.GetHeader("Accept-Language"); header != "" {
			first := strings.TrimSpace(strings.Split(strings.Split(header, ",")[0], ";")[0])
			switch first {
			case "zh-TW", "zh-Hant", "zh_TW", "zh-HK":
				lang = "zh_TW"
			case "en", "en-US", "en-GB":
				lang = "en"
			default:
				if supported, ok := supportedLanguage(first); ok {
					lang = supported
				}
			}
		}

		c.Set("lang", lang)
		c.Next()
	}
}

// supportedLanguage matches a tag such as "en-AU" against the loaded
// locales, first whole and then by its primary subtag.
func supportedLanguage(tag string) (string, bool) {
	tag = strings.ReplaceAll(tag, "-", "_")
	primary := strings.Split(tag, "_")[0]
	for _, candidate := range []string{tag, primary} {
		for _, lang := range i18n.GetSupportedLanguages() {
			if strings.EqualFold(lang, candidate) {
				return lang, true
			}
		}
	}
	return "", false
}
