package fetch

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

// ErrMalformedDataURL is returned for data: locators without a payload.
var ErrMalformedDataURL = errors.New("fetch: malformed data URL")

// DecodeDataURL returns the payload of a data:[<mediatype>][;base64],<data>
// locator. Non-base64 payloads are percent-decoded.
func DecodeDataURL(locator string) ([]byte, error) {
	if len(locator) < 5 || !strings.EqualFold(locator[:5], "data:") {
		return nil, ErrMalformedDataURL
	}
	comma := strings.IndexByte(locator, ',')
	if comma == -1 {
		return nil, ErrMalformedDataURL
	}
	meta := locator[5:comma]
	data := locator[comma+1:]

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, data)
		if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
			return raw, nil
		}
		raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, errors.Join(ErrMalformedDataURL, err)
		}
		return raw, nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, errors.Join(ErrMalformedDataURL, err)
	}
	return []byte(s), nil
}
