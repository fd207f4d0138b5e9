package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notewatch/pkg/logx"
)

const defaultFetchTimeout = 15 * time.Second

// HTTPSource talks to the journal service's JSON API.
//
// One request per page: GET {base}/api/v1/{category}?after={id}&page={n}.
// The response body is a JSON array of items, newest-first.
type HTTPSource struct {
	base  *url.URL
	token string
	http  *http.Client
	log   logx.Logger
}

type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewHTTPSource(cfg HTTPConfig, log logx.Logger) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("source base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("source base url must be absolute")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPSource{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, cat Category, afterID uint64, page int) ([]Item, error) {
	if page < 1 {
		page = 1
	}

	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/" + cat.String()
	q := u.Query()
	q.Set("after", strconv.FormatUint(afterID, 10))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", cat, page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, fmt.Errorf("fetch %s page %d: unexpected status %d", cat, page, resp.StatusCode)
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("fetch %s page %d: decode: %w", cat, page, err)
	}

	// The source omits the category field on some endpoints; stamp it so
	// downstream code never sees Unspecified items.
	for i := range items {
		if items[i].Category == CategoryUnspecified {
			items[i].Category = cat
		}
	}

	s.log.Debug("page fetched",
		logx.String("category", cat.String()),
		logx.Int("page", page),
		logx.Int("items", len(items)),
		logx.Duration("dur", time.Since(start)))
	return items, nil
}
