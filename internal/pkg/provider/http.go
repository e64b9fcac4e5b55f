package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RequestTimeout bounds every outbound call to a marketplace.
const RequestTimeout = 30 * time.Second

const maxBodyBytes = 1 << 20

// NewHTTPClient returns the client an adapter owns for its lifetime.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: RequestTimeout}
}

// doJSON sends req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, provider, op string, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// url.Error carries the full request URL, query credentials included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &UpstreamError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &UpstreamError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Excerpt: excerpt(body)}
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &UpstreamError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Excerpt: "malformed json", Err: err}
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, provider, op, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &UpstreamError{Provider: provider, Op: op, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, provider, op, req, out)
}

// fromOAuth2Error converts x/oauth2 failures into UpstreamError.
func fromOAuth2Error(provider, op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &UpstreamError{Provider: provider, Op: op, StatusCode: status, Excerpt: excerpt(re.Body)}
	}
	return &UpstreamError{Provider: provider, Op: op, Err: err}
}
