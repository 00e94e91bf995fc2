package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectKind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want Kind
	}{
		{"jpeg ext", "https://x.test/a/photo.JPEG", KindJPG},
		{"jpg ext", "https://x.test/photo.jpg", KindJPG},
		{"png with query", "https://x.test/logo.png?v=1.2", KindPNG},
		{"gif with fragment", "https://x.test/anim.gif#frame", KindGIF},
		{"webp", "http://x.test/p.webp", KindWebP},
		{"svg", "https://x.test/icon.svg", KindSVG},
		{"no ext", "https://x.test/image", KindJPG},
		{"trailing slash", "https://x.test/y/", KindJPG},
		{"unknown ext", "https://x.test/a.bmp", KindJPG},
		{"host only", "https://example.com", KindJPG},
		{"data png", "data:image/png;base64,iVBORw0KGgo=", KindPNG},
		{"data jpeg", "data:image/jpeg;base64,/9j/4AAQ", KindJPG},
		{"data svg xml", "data:image/svg+xml;utf8,<svg/>", KindSVG},
		{"data upper", "DATA:IMAGE/GIF;base64,R0lG", KindGIF},
		{"data other subtype", "data:image/bmp;base64,Qk0=", Kind("bmp")},
		{"data non image", "data:text/plain,hello", KindJPG},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DetectKind(tc.in))
		})
	}
}

func TestExtensionDefaultsToJPG(t *testing.T) {
	assert.Equal(t, "jpg", Extension("https://x.test/y/"))
	assert.Equal(t, "png", Extension("data:image/png;base64,AAAA"))
}

func TestFilterOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultFilterOptions().Validate())

	bad := DefaultFilterOptions()
	bad.AcceptedKinds = nil
	assert.ErrorIs(t, bad.Validate(), ErrInvalidOptions)

	neg := DefaultFilterOptions()
	neg.MinWidth = -1
	assert.ErrorIs(t, neg.Validate(), ErrInvalidOptions)
}

func TestWidenedAcceptsEverything(t *testing.T) {
	narrow := FilterOptions{MinWidth: 500, MinHeight: 500, AcceptedKinds: []Kind{KindGIF}, DetectOnPanelOpen: true}
	wide := narrow.Widened()
	assert.True(t, wide.IncludeBackgroundImages)
	assert.Zero(t, wide.MinWidth)
	assert.Zero(t, wide.MinHeight)
	assert.ElementsMatch(t, AllKinds(), wide.AcceptedKinds)
	assert.True(t, wide.DetectOnPanelOpen)
}
