package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

// maxBodyBytes caps how much of a response body an adapter will read.
const maxBodyBytes = 5 << 20

// fetcher performs the HTTP requests of the web-facing adapters through the
// retrying client.
type fetcher struct {
	client    *httpclient.Client
	userAgent string

	// guard, when set, vets the target and the post-redirect URL of get.
	guard func(context.Context, *url.URL) error
}

func newFetcher(client *httpclient.Client, userAgent string) *fetcher {
	if client == nil {
		client = httpclient.New()
	}
	return &fetcher{client: client, userAgent: userAgent}
}

// get fetches rawURL and returns the body and the final URL after redirects.
func (f *fetcher) get(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("invalid URL %q: %w", rawURL, err)}
	}
	if f.guard == nil {
		return f.do(req)
	}

	if err := f.guard(ctx, req.URL); err != nil {
		return nil, nil, err
	}
	body, final, err := f.do(req)
	if err != nil {
		return nil, nil, err
	}
	if final.Host != req.URL.Host {
		if err := f.guard(ctx, final); err != nil {
			return nil, nil, err
		}
	}
	return body, final, nil
}

var errPrivateHost = errors.New("refusing to fetch a loopback, private or link-local address")

type hostLookup func(ctx context.Context, host string) ([]netip.Addr, error)

// publicOnly rejects URLs whose host is, or resolves to, a non-public address.
func publicOnly(lookup hostLookup) func(context.Context, *url.URL) error {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}
	return func(ctx context.Context, u *url.URL) error {
		host := u.Hostname()
		addrs, err := resolveHost(ctx, lookup, host)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", host, err)
		}
		for _, a := range addrs {
			if !isPublic(a) {
				return &kindError{kind: KindInvalidArguments, err: fmt.Errorf("%w: %s", errPrivateHost, host)}
			}
		}
		return nil
	}
}

func resolveHost(ctx context.Context, lookup hostLookup, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	addrs, err := lookup(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses")
	}
	return addrs, err
}

func isPublic(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsValid() &&
		!a.IsLoopback() &&
		!a.IsPrivate() &&
		!a.IsLinkLocalUnicast() &&
		!a.IsLinkLocalMulticast() &&
		!a.IsInterfaceLocalMulticast() &&
		!a.IsMulticast() &&
		!a.IsUnspecified()
}

func (f *fetcher) do(req *http.Request) ([]byte, *url.URL, error) {
	if f.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &kindError{
			kind:   KindHTTPStatus,
			status: resp.StatusCode,
			err:    fmt.Errorf("%s %s returned HTTP %d", req.Method, redact(req.URL), resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return body, final, nil
}

// redact drops the query string, which may carry search terms or keys.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
