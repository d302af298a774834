package enrich

import "strings"

// browserFamilies maps window class fragments to a normalized family tag.
// Grouped so that vendor variants ("google-chrome", "chromium") collapse
// into one family.
var browserFamilies = map[string]string{
	"google-chrome":   "chrome",
	"google chrome":   "chrome",
	"chromium":        "chrome",
	"chrome":          "chrome",
	"firefox":         "firefox",
	"mozilla firefox": "firefox",
	"librewolf":       "firefox",
	"microsoft-edge":  "edge",
	"microsoft edge":  "edge",
	"edge":            "edge",
	"safari":          "safari",
	"opera":           "opera",
	"brave":           "brave",
	"vivaldi":         "vivaldi",
	"tor browser":     "tor",
}

// BrowserFamily normalizes a window class or application name to a browser
// family tag. ok is false when the application is not a known browser.
func BrowserFamily(application string) (family string, ok bool) {
	appLower := strings.ToLower(application)
	// Longer keys first so "google chrome" wins over "chrome".
	best := ""
	for key, fam := range browserFamilies {
		if strings.Contains(appLower, key) && len(key) > len(best) {
			best = key
			family = fam
		}
	}
	return family, best != ""
}
