// Package httpds fetches the survey export over HTTP.
package httpds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"koboetl/internal/metrics"
)

// ErrTransport marks failures where no HTTP response was received.
var ErrTransport = errors.New("httpds: transport failure")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// OK reports whether the status is exactly 200.
func (r Response) OK() bool { return r.StatusCode == http.StatusOK }

// Summary returns the <title> (or first <h1>) of an HTML body, whitespace
// collapsed. Non-HTML or unparsable bodies yield "".
func (r Response) Summary() string {
	if len(r.Body) == 0 || !strings.Contains(strings.ToLower(r.ContentType), "html") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return ""
	}
	text := doc.Find("title").First().Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Find("h1").First().Text()
	}
	return strings.Join(strings.Fields(text), " ")
}

// Fetcher performs a single authenticated GET per call. No retries, no
// timeout beyond what ctx and Client impose.
type Fetcher struct {
	Client  Doer
	JobName string
}

// Fetch issues GET url with HTTP Basic credentials and reads the whole body.
//
// Errors:
//   - ErrTransport (wrapped) when the request could not be sent or the body
//     could not be read. A non-200 status is not an error; check Response.OK.
func (f *Fetcher) Fetch(ctx context.Context, url, username, password string) (Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("httpds: build request: %w", err)
	}
	req.SetBasicAuth(username, password)

	start := time.Now()
	resp, err := client.Do(req)
	reqDur := time.Since(start)
	if err != nil {
		metrics.RecordHTTP(f.JobName, 0, err, reqDur, 0, -1)
		return Response{}, fmt.Errorf("%w: GET %s: %w", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	respDur := time.Since(start) - reqDur
	metrics.RecordHTTP(f.JobName, resp.StatusCode, err, reqDur, respDur, int64(len(body)))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	return Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
