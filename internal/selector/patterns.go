package selector

import (
	"regexp"
	"strings"
)

var (
	// TestAttributes are checked in this order by every layer.
	TestAttributes = []string{"data-testid", "data-test", "data-cy", "data-qa", "data-test-id", "data-automation-id"}

	stableAttributes = []string{
		"name", "type", "href", "src", "alt", "value", "for", "action", "method", "rel", "target", "placeholder", "title",
	}

	comprehensiveAttributes = []string{
		"type", "name", "role", "aria-label", "placeholder", "title", "alt", "for", "href", "value",
	}

	ariaStateAttributes = []string{
		"aria-expanded", "aria-pressed", "aria-checked", "aria-selected", "aria-current", "aria-disabled",
	}

	booleanStateAttributes = []string{"disabled", "readonly", "checked", "selected", "required"}

	customStateAttributes = []string{"data-state", "data-status", "data-active", "data-selected", "data-open"}

	generatedIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`(?i)^[0-9a-f]{8}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{12}$`),
		regexp.MustCompile(`(?i)[0-9a-f]{10,}`),
		regexp.MustCompile(`^(ember|react-|ng-|mui-|radix-|headlessui-|yui_|ext-gen|gwt-|j_id|__next|rc_|vue-)`),
		regexp.MustCompile(`^:r[0-9a-z]+:$`),
		regexp.MustCompile(`[-_]\d{3,}$`),
		regexp.MustCompile(`^[a-zA-Z]{1,3}\d{4,}$`),
	}

	generatedClassPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(css|sc|jsx|emotion|styled)-[a-zA-Z0-9]+`),
		regexp.MustCompile(`_[a-zA-Z0-9]{5,}$`),
		regexp.MustCompile(`__[a-zA-Z0-9]{5,}`),
		regexp.MustCompile(`(?i)[0-9a-f]{8,}`),
	}

	unstableValuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`),
		regexp.MustCompile(`(?i)\b[0-9a-f]{16,}\b`),
		regexp.MustCompile(`\b1\d{9}(\d{3})?\b`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`),
		regexp.MustCompile(`[?&](session|token|sid|_)=`),
	}

	identPattern = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)
)

const maxStableValueLength = 100

// IsGeneratedID reports whether an id looks framework- or runtime-assigned.
func IsGeneratedID(id string) bool {
	if id == "" {
		return true
	}

	for _, re := range generatedIDPatterns {
		if re.MatchString(id) {
			return true
		}
	}

	return false
}

// IsGeneratedClass reports whether a class name looks emitted by a CSS-in-JS
// or module bundler.
func IsGeneratedClass(class string) bool {
	for _, re := range generatedClassPatterns {
		if re.MatchString(class) {
			return true
		}
	}

	return false
}

// IsStableValue reports whether an attribute value is likely to survive a
// reload: bounded length, no ids, hashes, timestamps or session tokens.
func IsStableValue(v string) bool {
	if v == "" || len(v) > maxStableValueLength || strings.ContainsAny(v, "\n\r\t") {
		return false
	}

	for _, re := range unstableValuePatterns {
		if re.MatchString(v) {
			return false
		}
	}

	return true
}

// TestAttribute returns the first test attribute carried by attrs.
func TestAttribute(attrs map[string]string) (string, string, bool) {
	for _, name := range TestAttributes {
		if v := attrs[name]; v != "" {
			return name, v, true
		}
	}

	return "", "", false
}

// Quote renders v as a double-quoted CSS string.
func Quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

// AttrSelector renders `tag[name="value"]`; tag may be empty.
func AttrSelector(tag, name, value string) string {
	return tag + "[" + name + "=" + Quote(value) + "]"
}

// IDSelector renders `#id`, falling back to an attribute selector for ids
// that are not valid CSS identifiers.
func IDSelector(id string) string {
	if identPattern.MatchString(id) {
		return "#" + id
	}

	return AttrSelector("", "id", id)
}
