// Package opensearch indexes history events as OpenSearch documents over
// the REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/xpol/internal/history"
)

const DefaultIndex = "xpol-history"

// Options locate the index. BaseURL is http(s)://host:port.
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Sink POSTs each event to {BaseURL}/{Index}/_doc.
type Sink struct {
	client *http.Client
	docURL string
	user   string
	pass   string
}

func New(o Options) *Sink {
	if o.Index == "" {
		o.Index = DefaultIndex
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return &Sink{
		client: &http.Client{Timeout: o.Timeout},
		docURL: strings.TrimRight(o.BaseURL, "/") + "/" + url.PathEscape(o.Index) + "/_doc",
		user:   o.Username,
		pass:   o.Password,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.docURL, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
