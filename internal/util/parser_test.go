package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseLinks(t *testing.T) {
	root, err := html.Parse(strings.NewReader(`<a href="/">root</a><a href="A.ZIP">a</a><p><a href="b.csv">b</a></p>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.ZIP"}, ParseLinks(root, ".zip"))
	assert.Equal(t, []string{"A.ZIP", "b.csv"}, ParseLinks(root, ""))
}

func TestListingNames(t *testing.T) {
	page := `<a href="sub/">sub</a><a href="x%20y.tar">x y</a><a href="/base/z.tar">z</a><a href="z.tar">z</a>`
	names, err := ListingNames(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"x y.tar", "z.tar"}, names)
}
