package trackinfo

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// page holds the metadata of one fetched HTML document.
type page struct {
	meta  map[string][]string
	title string
}

func (p page) first(keys ...string) string {
	for _, k := range keys {
		if v := p.meta[k]; len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}

// parsePage collects <meta property|name=... content=...> values and the
// <title> text.
func parsePage(r io.Reader) (page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return page{}, err
	}
	p := page{meta: make(map[string][]string)}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				var key, content string
				for _, a := range n.Attr {
					switch strings.ToLower(a.Key) {
					case "property", "name":
						key = strings.ToLower(a.Val)
					case "content":
						content = strings.TrimSpace(a.Val)
					}
				}
				if key != "" {
					p.meta[key] = append(p.meta[key], content)
				}
			case "title":
				if p.title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					p.title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p, nil
}
