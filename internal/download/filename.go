package download

import (
	"fmt"
	"net/url"
	"strings"

	"imagepicker/discovery"
)

// Filename names the index-th item of a batch. The trailing path segment is
// used when it has a dot; otherwise the name is image_<id>_<index>.<ext>.
// Every character outside [A-Za-z0-9.-] becomes '_'.
func Filename(locator string, index int, id int64) string {
	if discovery.IsDataURL(locator) {
		return sanitize(synthesized(locator, index, id))
	}
	u, err := url.Parse(locator)
	if err != nil {
		return fmt.Sprintf("image_%d_%d.jpg", id, index)
	}
	name := u.EscapedPath()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || !strings.Contains(name, ".") {
		name = synthesized(locator, index, id)
	}
	return sanitize(name)
}

func synthesized(locator string, index int, id int64) string {
	return fmt.Sprintf("image_%d_%d.%s", id, index, discovery.Extension(locator))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, name)
}
