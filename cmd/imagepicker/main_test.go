package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepicker/discovery"
)

func TestResolveSources(t *testing.T) {
	images := []discovery.Descriptor{
		{Source: "https://x.test/a.png"},
		{Source: "https://x.test/b.jpg"},
		{Source: "https://cdn.test/a-large.png"},
	}
	tests := []struct {
		arg  string
		want []string
		err  bool
	}{
		{arg: "2", want: []string{"https://x.test/b.jpg"}},
		{arg: "https://x.test/a.png", want: []string{"https://x.test/a.png"}},
		{arg: "cdn", want: []string{"https://cdn.test/a-large.png"}},
		{arg: ".png", want: []string{"https://x.test/a.png", "https://cdn.test/a-large.png"}},
		{arg: "4", err: true},
		{arg: "0", err: true},
		{arg: "nothing", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := resolveSources(images, tt.arg)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterFlagsApply(t *testing.T) {
	var ff filterFlags
	cmd := &cobra.Command{Use: "x"}
	ff.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--min-width", "0", "--kinds", "JPEG,png"}))

	base := discovery.DefaultFilterOptions()
	got, changed := ff.apply(cmd, base)
	assert.True(t, changed)
	assert.Equal(t, 0, got.MinWidth)
	assert.Equal(t, 100, got.MinHeight)
	assert.Equal(t, []discovery.Kind{discovery.KindJPG, discovery.KindPNG}, got.AcceptedKinds)
	assert.Len(t, base.AcceptedKinds, 5, "base is not modified")

	var untouched filterFlags
	cmd2 := &cobra.Command{Use: "y"}
	untouched.register(cmd2)
	_, changed = untouched.apply(cmd2, base)
	assert.False(t, changed)
}

func TestNormalizeTarget(t *testing.T) {
	assert.Equal(t, "https://example.com", normalizeTarget("example.com"))
	assert.Equal(t, "http://x.test/p", normalizeTarget(" http://x.test/p "))
	assert.Equal(t, "about:blank", normalizeTarget("about:blank"))
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"scan", "select", "download", "grab", "watch", "state"} {
		assert.Contains(t, names, want)
	}
}
