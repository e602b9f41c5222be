package container

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/gorilla/css/scanner"
	"golang.org/x/net/html"
)

// Link is one reference discovered by Iterlinks.
type Link struct {
	URL    string // the raw href/src/url(...) text as written
	Line   int    // 1-based source line, 0 if unavailable
	Column int    // 1-based column on that line, 0 if unavailable

	setFn func(newURL string) // rewrites the underlying node in place
}

// Set rewrites this link's URL in the underlying parsed tree and marks
// replaced true. Call only from within a ReplaceLinks callback.
func (l *Link) Set(newURL string, replaced *bool) {
	if l.setFn == nil {
		return
	}
	l.setFn(newURL)
	*replaced = true
}

// urlAttrsByTag lists the link-bearing attributes iterlinks checks for each
// HTML element, grounded on the attribute set simp-lee-epub's html.go
// rewrites (src/href, including the xlink:href used for inline SVG/image).
var urlAttrsByTag = map[string][]string{
	"a":          {"href"},
	"img":        {"src", "longdesc"},
	"image":      {"xlink:href", "href"},
	"link":       {"href"},
	"script":     {"src"},
	"iframe":     {"src"},
	"source":     {"src"},
	"track":      {"src"},
	"video":      {"src", "poster"},
	"audio":      {"src"},
	"object":     {"data"},
	"embed":      {"src"},
	"input":      {"src"},
	"area":       {"href"},
	"base":       {"href"},
	"blockquote": {"cite"},
	"q":          {"cite"},
	"ins":        {"cite"},
	"del":        {"cite"},
}

// Iterlinks yields every link found in a parsed artifact, dispatching by
// MIME family:
//   - OPF: every element with an href attribute.
//   - HTML-family: every attribute-tree link. Line and Column are 0: the
//     parsed HTML tree records no source positions.
//   - CSS-family: url(...) references scanned from raw text, skipping
//     comments.
//   - NCX: every element with a src attribute.
func Iterlinks(mime string, a *Artifact) []Link {
	switch {
	case mime == OPFMimetype:
		return iterlinksXMLAttr(a.XML, "href")
	case mime == ncxMimetype:
		return iterlinksXMLAttr(a.XML, "src")
	case IsHTMLFamily(mime):
		return iterlinksHTML(a.HTML)
	case IsCSSFamily(mime):
		return iterlinksCSS(a.CSS)
	default:
		return nil
	}
}

func iterlinksXMLAttr(doc *etree.Document, attrName string) []Link {
	if doc == nil {
		return nil
	}
	var out []Link
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if attr := e.SelectAttr(attrName); attr != nil {
			elem := e
			out = append(out, Link{
				URL: attr.Value,
				setFn: func(newURL string) {
					elem.RemoveAttr(attrName)
					elem.CreateAttr(attrName, newURL)
				},
			})
		}
		for _, c := range elementChildren(e) {
			walk(c)
		}
	}
	walk(&doc.Element)
	return out
}

func iterlinksHTML(doc *html.Node) []Link {
	if doc == nil {
		return nil
	}
	var out []Link
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attrNames := urlAttrsByTag[strings.ToLower(n.Data)]
			for _, want := range attrNames {
				for i := range n.Attr {
					if !strings.EqualFold(n.Attr[i].Key, want) {
						continue
					}
					idx := i
					out = append(out, Link{
						URL: n.Attr[idx].Val,
						setFn: func(newURL string) {
							n.Attr[idx].Val = newURL
						},
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// iterlinksCSS scans raw CSS text for url(...) references using
// gorilla/css/scanner. The scanner already tokenizes comments separately
// from url(...) tokens: a url(...) written inside a /* ... */ comment is
// lexed as part of the TokenComment token, never surfaced as TokenURI, so
// it is automatically skipped.
func iterlinksCSS(src string) []Link {
	if src == "" {
		return nil
	}
	s := scanner.New(src)
	var out []Link
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}
		if tok.Type != scanner.TokenURI {
			continue
		}
		url := extractCSSURL(tok.Value)
		out = append(out, Link{
			URL:    url,
			Line:   tok.Line,
			Column: tok.Column,
		})
	}
	return out
}

// extractCSSURL strips "url(" ")" and surrounding quotes from a scanner
// TokenURI value.
func extractCSSURL(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "url(")
	v = strings.TrimSuffix(v, ")")
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return v
}

// ReplaceLinks applies fn to every link in the parsed artifact for name,
// returning whether any substitution actually happened. For CSS and HTML
// the mutation happens on the parsed representation (the HTML DOM, or the
// CSS source string rebuilt from the scanner's tokens), never on raw bytes
// directly.
func ReplaceLinks(mime string, a *Artifact, fn func(link *Link, replaced *bool)) bool {
	any := false

	switch {
	case mime == OPFMimetype:
		for _, l := range iterlinksXMLAttr(a.XML, "href") {
			fn(&l, &any)
		}
	case mime == ncxMimetype:
		for _, l := range iterlinksXMLAttr(a.XML, "src") {
			fn(&l, &any)
		}
	case IsHTMLFamily(mime):
		for _, l := range iterlinksHTML(a.HTML) {
			fn(&l, &any)
		}
	case IsCSSFamily(mime):
		newCSS, changed := replaceCSSLinks(a.CSS, fn)
		if changed {
			a.CSS = newCSS
			any = true
		}
	}

	return any
}

// replaceCSSLinks rewrites every url(...) in src using fn. gorilla/css/scanner
// tokenizes the full input (every byte belongs to some token, CSS comments
// included), so the output is rebuilt by concatenating token values in order
// with no byte offsets involved — unrelated bytes, including comment bodies,
// are reproduced verbatim from tok.Value, and only rewritten url(...) tokens
// change.
func replaceCSSLinks(src string, fn func(link *Link, replaced *bool)) (string, bool) {
	s := scanner.New(src)
	var sb strings.Builder
	changed := false

	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}
		if tok.Type != scanner.TokenURI {
			sb.WriteString(tok.Value)
			continue
		}

		url := extractCSSURL(tok.Value)
		var replaced bool
		var newURL string
		link := Link{
			URL:    url,
			Line:   tok.Line,
			Column: tok.Column,
			setFn: func(u string) {
				newURL = u
			},
		}
		fn(&link, &replaced)

		if replaced {
			sb.WriteString("url(" + cssQuote(newURL) + ")")
			changed = true
		} else {
			sb.WriteString(tok.Value)
		}
	}
	return sb.String(), changed
}

func cssQuote(url string) string {
	if strings.ContainsAny(url, `"'() \t\n`) {
		return `"` + strings.ReplaceAll(url, `"`, `\"`) + `"`
	}
	return url
}
