package discovery

import (
	"net/url"
	"path"
	"strings"
)

// DetectKind derives the kind of a locator from its extension, or from the
// declared MIME subtype for data URLs. Anything unrecognized is KindJPG.
func DetectKind(locator string) Kind {
	s := strings.TrimSpace(locator)
	if IsDataURL(s) {
		if sub := dataSubtype(s); sub != "" {
			return normalizeKind(sub)
		}
		return KindJPG
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(locatorPath(s)), "."))
	switch ext {
	case "jpg", "jpeg":
		return KindJPG
	case "png":
		return KindPNG
	case "gif":
		return KindGIF
	case "webp":
		return KindWebP
	case "svg":
		return KindSVG
	}
	return KindJPG
}

// Extension is the file extension used for a locator when a name has to be
// synthesized.
func Extension(locator string) string {
	return string(DetectKind(locator))
}

// IsDataURL reports whether locator embeds its payload.
func IsDataURL(locator string) bool {
	return len(locator) >= 5 && strings.EqualFold(locator[:5], "data:")
}

// IsNetworkURL reports whether locator is an http(s) address.
func IsNetworkURL(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func validLocator(locator string) bool {
	return locator != "" && (IsNetworkURL(locator) || IsDataURL(locator))
}

func normalizeKind(sub string) Kind {
	if sub == "jpeg" {
		return KindJPG
	}
	return Kind(sub)
}

// dataSubtype extracts the image subtype of "data:image/<sub>[+suffix];...".
func dataSubtype(locator string) string {
	header := locator[5:]
	if i := strings.IndexAny(header, ";,"); i >= 0 {
		header = header[:i]
	}
	header = strings.ToLower(strings.TrimSpace(header))
	if !strings.HasPrefix(header, "image/") {
		return ""
	}
	sub := header[len("image/"):]
	end := 0
	for end < len(sub) && isAlnum(sub[end]) {
		end++
	}
	return sub[:end]
}

func locatorPath(locator string) string {
	if u, err := url.Parse(locator); err == nil {
		return u.Path
	}
	s := locator
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
