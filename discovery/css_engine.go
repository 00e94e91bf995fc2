package discovery

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// Only the background properties take part in the cascade.
var cascadedProps = map[string]struct{}{
	"background":       {},
	"background-image": {},
}

const (
	maxSheetDepth    = 16
	maxExternalLoads = 16
	viewportWidth    = 1280
	viewportHeight   = 800
)

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
}

type stylesheet struct {
	rules []cssRule
}

type sheetContext struct {
	ctx     context.Context
	baseURL string
	fetcher Fetcher
	logger  *slog.Logger
	depth   int
	visited map[string]struct{}
	budget  *int
}

func (c *sheetContext) child(base string) *sheetContext {
	next := *c
	next.baseURL = base
	next.depth = c.depth + 1
	return &next
}

// take consumes one external load from the shared budget.
func (c *sheetContext) take(abs string) bool {
	if c.fetcher == nil {
		return false
	}
	if _, seen := c.visited[abs]; seen {
		return false
	}
	c.visited[abs] = struct{}{}
	if *c.budget <= 0 {
		return false
	}
	*c.budget--
	return true
}

func (c *sheetContext) load(abs string) (string, bool) {
	b, err := c.fetcher.Fetch(c.ctx, abs)
	if err != nil {
		c.logger.Debug("stylesheet fetch failed", "url", abs, "error", err)
		return "", false
	}
	return string(b), true
}

func buildStylesheet(ctx context.Context, doc *html.Node, base string, fetcher Fetcher, logger *slog.Logger) *stylesheet {
	if doc == nil {
		return nil
	}
	budget := maxExternalLoads
	sc := &sheetContext{
		ctx:     ctx,
		baseURL: base,
		fetcher: fetcher,
		logger:  logger,
		visited: map[string]struct{}{},
		budget:  &budget,
	}
	ss := &stylesheet{}
	order := 0

	// <style> and <link rel=stylesheet> are applied in document order.
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					order = ss.add(parseCSSText(n.FirstChild.Data, order, sc))
				}
			case "link":
				if href, ok := stylesheetHref(n); ok {
					if abs := resolveAbsURL(base, href); abs != "" && sc.take(abs) {
						if txt, ok := sc.load(abs); ok {
							order = ss.add(parseCSSText(txt, order, sc.child(abs)))
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(ss.rules) == 0 {
		return nil
	}
	return ss
}

func (ss *stylesheet) add(rules []cssRule, order int) int {
	ss.rules = append(ss.rules, rules...)
	return order
}

func stylesheetHref(n *html.Node) (string, bool) {
	rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
	if !strings.Contains(rel, "stylesheet") || strings.Contains(rel, "alternate") {
		return "", false
	}
	if typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type"))); typ != "" && typ != "text/css" {
		return "", false
	}
	if media := getAttr(n, "media"); !mediaRuleActive(media) {
		return "", false
	}
	href := strings.TrimSpace(getAttr(n, "href"))
	return href, href != ""
}

func parseCSSText(txt string, startOrder int, sc *sheetContext) ([]cssRule, int) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || sc.depth >= maxSheetDepth {
		return nil, startOrder
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		sc.logger.Debug("stylesheet parse failed", "base", sc.baseURL, "error", err)
		return nil, startOrder
	}

	var rules []cssRule
	order := startOrder

	var walk func([]*cssast.Rule, *sheetContext)
	walk = func(list []*cssast.Rule, cur *sheetContext) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude) {
						walk(rule.Rules, cur)
					}
				case "@supports":
					walk(rule.Rules, cur)
				case "@import":
					target, media := extractImportTarget(rule.Prelude)
					if target == "" || !mediaRuleActive(media) {
						continue
					}
					abs := resolveAbsURL(cur.baseURL, target)
					if abs == "" || !cur.take(abs) {
						continue
					}
					if body, ok := cur.load(abs); ok {
						var rs []cssRule
						rs, order = parseCSSText(body, order, cur.child(abs))
						rules = append(rules, rs...)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations, cur.baseURL)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ","))
				if err != nil {
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					rules = append(rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}

	walk(sheet.Rules, sc)
	return rules, order
}

// convertDeclarations keeps the background declarations and resolves their
// url() references against the sheet they were declared in.
func convertDeclarations(list []*cssast.Declaration, base string) []cssDeclaration {
	var out []cssDeclaration
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		if _, ok := cascadedProps[prop]; !ok {
			continue
		}
		val := strings.TrimSpace(decl.Value)
		if val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: resolveBackgroundURLs(val, base), important: decl.Important})
	}
	return out
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	if strings.HasPrefix(strings.ToLower(s), "url(") {
		ref, rest, ok := readURLToken(s[len("url("):])
		if !ok {
			return "", ""
		}
		return ref, strings.TrimSpace(rest)
	}
	if q := s[0]; (q == '"' || q == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], q); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	return fields[0], strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

// mediaRuleActive evaluates a media query list against a desktop screen.
func mediaRuleActive(prelude string) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		negate := false
		if strings.HasPrefix(query, "not ") {
			negate = true
			query = strings.TrimSpace(query[len("not "):])
		}
		query = strings.TrimSpace(strings.TrimPrefix(query, "only "))
		mediaType, rest := "", query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(query, mediaType))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "and"))
		}
		match := false
		switch mediaType {
		case "", "all", "screen":
			match = mediaFeaturesMatch(rest)
		}
		if match != negate {
			return true
		}
	}
	return false
}

func mediaFeaturesMatch(expr string) bool {
	for _, clause := range strings.Split(expr, " and ") {
		c := strings.TrimSpace(clause)
		c = strings.TrimSuffix(strings.TrimPrefix(c, "("), ")")
		if c == "" {
			continue
		}
		feature, value, _ := strings.Cut(c, ":")
		feature = strings.TrimSpace(feature)
		px, ok := cssLengthToPx(value)
		switch feature {
		case "min-width":
			if ok && viewportWidth < px {
				return false
			}
		case "max-width":
			if ok && viewportWidth > px {
				return false
			}
		case "min-height":
			if ok && viewportHeight < px {
				return false
			}
		case "max-height":
			if ok && viewportHeight > px {
				return false
			}
		case "orientation":
			if strings.TrimSpace(value) == "portrait" {
				return false
			}
		}
	}
	return true
}

func cssLengthToPx(val string) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	scale := 1.0
	switch {
	case strings.HasSuffix(v, "px"):
		v = v[:len(v)-2]
	case strings.HasSuffix(v, "rem"):
		v, scale = v[:len(v)-3], 16
	case strings.HasSuffix(v, "em"):
		v, scale = v[:len(v)-2], 16
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return int(f*scale + 0.5), true
}

// computeBackground resolves the winning background-image for n. The
// shorthand only counts when it carries an image layer.
func computeBackground(n *html.Node, ss *stylesheet, base string) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	props := map[string]propState{}
	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}
	if inline := strings.TrimSpace(getAttr(n, "style")); inline != "" {
		if decls, err := parser.ParseDeclarations(inline); err == nil {
			for i, decl := range convertDeclarations(decls, base) {
				applyDeclaration(props, decl, cascadia.Specificity{1 << 12, 0, 0}, (1<<30)+i)
			}
		}
	}
	st, ok := props["background-image"]
	if !ok {
		return ""
	}
	if v := strings.ToLower(strings.TrimSpace(st.val)); v == "none" || v == "initial" || v == "inherit" {
		return ""
	}
	return st.val
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	prop := decl.property
	value := decl.value
	if prop == "background" {
		// A shorthand without url() resets the image layer to none.
		if len(BackgroundURLs(value)) > 0 {
			value = strings.Join(quotedURLs(value), ", ")
		} else {
			value = "none"
		}
		prop = "background-image"
	}
	entry := propState{val: value, spec: spec, order: order, important: decl.important}
	prev, ok := store[prop]
	switch {
	case !ok:
		store[prop] = entry
	case prev.important && !decl.important:
	case decl.important && !prev.important:
		store[prop] = entry
	case prev.spec.Less(spec):
		store[prop] = entry
	case spec.Less(prev.spec):
	case order >= prev.order:
		store[prop] = entry
	}
}

func quotedURLs(value string) []string {
	refs := BackgroundURLs(value)
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, `url("`+ref+`")`)
	}
	return out
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}
