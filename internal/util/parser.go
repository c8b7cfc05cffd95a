package util

import (
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// ParseLinks finds href values ending with suffix within an HTML node tree.
// An empty suffix matches every link.
func ParseLinks(n *html.Node, suffix string) []string {
	var out []string
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key == "href" {
					// Skip the root and sort/parent links autoindex pages carry.
					if a.Val != "/" && !strings.HasPrefix(a.Val, "?") &&
						strings.HasSuffix(strings.ToLower(a.Val), strings.ToLower(suffix)) {
						out = append(out, a.Val)
					}
					break
				}
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}

// ListingNames parses a directory index page and returns the base names of the
// files it links to. Links pointing at sub-directories are dropped.
func ListingNames(r io.Reader) ([]string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, link := range ParseLinks(root, "") {
		u, err := url.Parse(link)
		if err != nil || strings.HasSuffix(u.Path, "/") || u.Path == "" {
			continue
		}
		name, err := url.PathUnescape(path.Base(u.Path))
		if err != nil {
			name = path.Base(u.Path)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}
