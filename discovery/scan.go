package discovery

// Scan runs the three discovery passes over doc and returns the accepted
// descriptors, deduplicated by Source with first-seen order. It never fails:
// elements that cannot be read are skipped.
func Scan(doc Document, opts FilterOptions) []Descriptor {
	if doc == nil {
		return nil
	}
	seen := map[string]struct{}{}
	out := []Descriptor{}

	for _, img := range doc.Images() {
		src := img.Source
		if _, dup := seen[src]; dup || !validLocator(src) {
			continue
		}
		w, h := img.Dimensions()
		if w < opts.MinWidth || h < opts.MinHeight {
			continue
		}
		kind := DetectKind(src)
		if !opts.Accepts(kind) {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, Descriptor{Source: src, Width: w, Height: h, Label: img.Alt, Kind: kind})
	}

	// Background images are never decoded, so the dimension filter does not
	// apply to them.
	if opts.IncludeBackgroundImages {
		for _, value := range doc.Backgrounds() {
			for _, src := range BackgroundURLs(value) {
				if _, dup := seen[src]; dup || !validLocator(src) {
					continue
				}
				kind := DetectKind(src)
				if !opts.Accepts(kind) {
					continue
				}
				seen[src] = struct{}{}
				out = append(out, Descriptor{Source: src, Label: BackgroundLabel, Kind: kind})
			}
		}
	}

	for i, c := range doc.Canvases() {
		data, err := c.DataURL(CanvasMIME)
		if err != nil || data == "" {
			continue
		}
		if _, dup := seen[data]; dup {
			continue
		}
		seen[data] = struct{}{}
		w, h := c.Size()
		out = append(out, Descriptor{Source: data, Width: w, Height: h, Label: canvasLabel(i), Kind: CanvasKind})
	}
	return out
}

// Added returns the descriptors of fresh whose Source is absent from
// existing, in fresh's order.
func Added(existing, fresh []Descriptor) []Descriptor {
	known := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		known[d.Source] = struct{}{}
	}
	var out []Descriptor
	for _, d := range fresh {
		if _, ok := known[d.Source]; ok {
			continue
		}
		known[d.Source] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Sources lists the locators of descriptors in order.
func Sources(list []Descriptor) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, d.Source)
	}
	return out
}
