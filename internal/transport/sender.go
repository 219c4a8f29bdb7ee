// Package transport performs the outbound HTTP delivery of lead payloads.
// Every failure mode is folded into the returned outcome value; nothing
// escapes this boundary as an error.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
)

const (
	sendTimeout  = 15 * time.Second
	maxRedirects = 5
	// previewLimit bounds the stored response body preview, in runes.
	previewLimit = 300
	// maxBodyRead caps how much of the response is read for the preview.
	maxBodyRead = 64 << 10
)

var errTooManyRedirects = errors.New("stopped after 5 redirects")

// Sender posts form-urlencoded payloads to endpoint URLs.
type Sender struct {
	client    *http.Client
	userAgent string
	// siteURL is sent as the Referer when a delivery asks for it.
	siteURL string
}

// NewSender builds a sender identifying itself with the given version.
// siteURL may be empty, in which case no Referer is ever attached.
func NewSender(version, siteURL string) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: sendTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		userAgent: "LeadRelay/" + version,
		siteURL:   siteURL,
	}
}

// Send posts payload to rawURL and returns the normalized outcome.
// An empty URL fails immediately without a network call.
func (s *Sender) Send(ctx context.Context, rawURL string, payload map[string]string, withReferer bool) domain.Outcome {
	if rawURL == "" {
		return domain.Outcome{Code: 0, Error: "empty URL"}
	}

	form := make(url.Values, len(payload))
	for key, value := range payload {
		form.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Outcome{Code: 0, Error: "create request: " + err.Error()}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", s.userAgent)
	if withReferer && s.siteURL != "" {
		req.Header.Set("Referer", s.siteURL)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Outcome{Code: 0, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))

	return domain.Outcome{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Code:    resp.StatusCode,
		Preview: Preview(string(body)),
	}
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Preview cleans a response body for audit logging: HTML tags stripped,
// whitespace collapsed, truncated to 300 runes with an ellipsis.
func Preview(body string) string {
	s := tagPattern.ReplaceAllString(body, "")
	s = whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")

	runes := []rune(s)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit]) + "…"
	}
	return s
}
