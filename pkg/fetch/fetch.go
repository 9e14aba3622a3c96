// Package fetch retrieves remote files on behalf of a client.
//
// The client widget can ask the server to fetch a URL instead of uploading
// the bytes itself. The fetcher probes the URL for metadata and downloads
// the body with a bounded timeout.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// DefaultTimeout bounds one probe or download.
const DefaultTimeout = 10 * time.Second

// Info is what a remote server tells about a URL.
type Info struct {
	// Size is the Content-Length, or -1 when unknown.
	Size int64

	// MimeType is the media type without parameters, or "".
	MimeType string

	// Name comes from the Content-Disposition filename, else the last
	// segment of the URL path.
	Name string

	// Status is the HTTP status of the response.
	Status int
}

// OK reports whether the remote server answered with a 2xx status.
func (i Info) OK() bool {
	return i.Status >= 200 && i.Status < 300
}

// Fetcher performs remote requests with a bounded timeout.
type Fetcher struct {
	client *http.Client
}

// New creates a fetcher. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Probe issues a HEAD request for rawURL.
//
// A remote error status is reported through Info.Status, not as an error.
// Servers that answer 405 or 501 to HEAD have no metadata to offer; the
// returned Info then has Status 0, unknown size and the URL-derived name.
// Transport failures are returned as UpstreamFetchFailed.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (Info, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Info{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return Info{}, upload.MalformedRequest("invalid fetch url: %v", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Info{}, upload.UpstreamFetchFailed(0, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return Info{Size: -1, Name: nameFromURL(u)}, nil
	}

	return infoFromResponse(u, resp), nil
}

// Open issues a GET request for rawURL and returns the body of a 2xx
// response. A non-2xx response is returned as UpstreamFetchFailed mirroring
// the remote status. The caller closes the body.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, Info, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, Info{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, Info{}, upload.MalformedRequest("invalid fetch url: %v", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Info{}, upload.UpstreamFetchFailed(0, err)
	}

	info := infoFromResponse(u, resp)
	if !info.OK() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, info, upload.UpstreamFetchFailed(resp.StatusCode, nil)
	}

	return resp.Body, info, nil
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, upload.MalformedRequest("invalid fetch url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, upload.MalformedRequest("fetch url must be absolute http(s): %q", rawURL)
	}
	return u, nil
}

func infoFromResponse(u *url.URL, resp *http.Response) Info {
	info := Info{
		Size:   resp.ContentLength,
		Status: resp.StatusCode,
		Name:   nameFromURL(u),
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			info.MimeType = mediaType
		}
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/")); name != "" && name != "." && name != "/" {
				info.Name = name
			}
		}
	}

	return info
}

func nameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// String is used in log lines.
func (i Info) String() string {
	return fmt.Sprintf("status=%d size=%d type=%q name=%q", i.Status, i.Size, i.MimeType, i.Name)
}
