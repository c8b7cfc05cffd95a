package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/brensch/zstash/internal/util"
)

// HTTP fetches from a web server exposing the archive directory.
type HTTP struct {
	base   *url.URL
	client *http.Client
}

// NewHTTP returns a fetcher for base. A nil client uses util.DefaultHTTPClient.
func NewHTTP(base string, client *http.Client) (*HTTP, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse remote url %s: %w", base, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	return &HTTP{base: u, client: client}, nil
}

func (h *HTTP) objectURL(name string) string {
	return h.base.ResolveReference(&url.URL{Path: name}).String()
}

// Fetch downloads base/name into dest.
func (h *HTTP) Fetch(ctx context.Context, name, dest string) error {
	target := h.objectURL(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", target, err)
	}
	req.Header.Set("Accept", "*/*")

	return writeAtomic(dest, func(w *os.File) error {
		_, err := util.DownloadTo(h.client, req, w)
		var se *util.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return fmt.Errorf("fetch %s: %w", target, ErrNotFound)
		}
		return err
	})
}

// List reads the directory index page at base and returns the linked file names.
func (h *HTTP) List(ctx context.Context, pattern string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create listing request: %w", err)
	}
	var page bytes.Buffer
	if _, err := util.DownloadTo(h.client, req, &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", h.base, err)
	}
	names, err := util.ListingNames(&page)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", h.base, err)
	}
	return filterNames(names, pattern)
}
