package discovery

import (
	"net/url"
	"strings"
)

// BackgroundURLs extracts every url(...) reference of a background-image
// value. Layered backgrounds declare a comma separated list, gradients and
// "none" contribute nothing.
func BackgroundURLs(value string) []string {
	var out []string
	s := value
	for {
		i := indexFold(s, "url(")
		if i < 0 {
			return out
		}
		s = s[i+len("url("):]
		ref, rest, ok := readURLToken(s)
		if !ok {
			return out
		}
		if ref != "" {
			out = append(out, ref)
		}
		s = rest
	}
}

// readURLToken reads the body of a url( token up to its closing paren.
func readURLToken(s string) (string, string, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f")
	if s == "" {
		return "", "", false
	}
	if q := s[0]; q == '"' || q == '\'' {
		end := strings.IndexByte(s[1:], q)
		if end < 0 {
			return "", "", false
		}
		ref := s[1 : end+1]
		rest := s[end+2:]
		if close := strings.IndexByte(rest, ')'); close >= 0 {
			rest = rest[close+1:]
		} else {
			rest = ""
		}
		return strings.TrimSpace(ref), rest, true
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:end]), s[end+1:], true
}

// resolveBackgroundURLs rewrites relative url() references of value against
// base so the result matches what a browser reports as computed style.
func resolveBackgroundURLs(value, base string) string {
	refs := BackgroundURLs(value)
	if len(refs) == 0 || base == "" {
		return value
	}
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		abs := ref
		if !IsDataURL(ref) {
			if r := resolveAbsURL(base, ref); r != "" {
				abs = r
			}
		}
		parts = append(parts, `url("`+abs+`")`)
	}
	return strings.Join(parts, ", ")
}

func resolveAbsURL(base, href string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hu, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

// indexFold finds an ASCII lower-case sub in s ignoring case.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
