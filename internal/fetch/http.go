package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vinadenenko/earth-map/internal/tile"
)

var (
	ErrTileNotFound = errors.New("tile not found")
	ErrEmptyTile    = errors.New("empty tile body")
)

const defaultUserAgent = "earth-map/1.0"

// HTTPSource fetches tiles from a {z}/{x}/{y} URL template. The {s}
// placeholder rotates deterministically over the configured subdomains
// so neighboring tiles spread across mirror hosts.
type HTTPSource struct {
	desc   Descriptor
	client *http.Client
}

func NewHTTPSource(desc Descriptor, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{desc: desc, client: client}
}

// TileURL expands the template for a key.
func (s *HTTPSource) TileURL(key tile.Key) string {
	url := strings.Replace(s.desc.URL, "{x}", strconv.Itoa(int(key.Col)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(key.Row)), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(key.Level)), -1)
	if len(s.desc.Subdomains) > 0 {
		sub := s.desc.Subdomains[int(key.Col+key.Row)%len(s.desc.Subdomains)]
		url = strings.Replace(url, "{s}", sub, -1)
	}
	return url
}

func (s *HTTPSource) Fetch(ctx context.Context, key tile.Key) ([]byte, error) {
	url := s.TileURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Key: key, Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range s.desc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Key: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Key: key, Err: ErrTileNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Key: key, Err: fmt.Errorf("status code %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Key: key, Err: err}
	}
	if len(body) == 0 {
		return nil, &Error{Key: key, Err: ErrEmptyTile}
	}
	return body, nil
}
