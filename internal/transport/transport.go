// Package transport builds the HTTP round trippers used to reach retailer
// inventory APIs.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// BROWSER TLS FINGERPRINTS
// =============================================================================
//
// Grocery storefronts sit behind CDNs that rate-limit or block clients whose
// TLS ClientHello does not look like a browser (JA3 fingerprinting). Go's
// crypto/tls hello is easy to spot.
//
// The fingerprinting transport dials with uTLS using a browser hello and lets
// ALPN pick the protocol:
//
//   1. https requests go to http2.Transport first
//   2. if the host does not speak h2 the request is retried over HTTP/1.1
//      and the host is remembered so later requests skip the h2 attempt
//   3. plain http requests always use HTTP/1.1
//
// =============================================================================

// Profile selects the ClientHello a transport presents.
type Profile string

const (
	ProfileChrome   Profile = "chrome"
	ProfileFirefox  Profile = "firefox"
	ProfileSafari   Profile = "safari"
	ProfileStandard Profile = "standard" // Go's own TLS stack
)

func (p Profile) helloID() (utls.ClientHelloID, bool) {
	switch p {
	case ProfileChrome, "":
		return utls.HelloChrome_Auto, true
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, true
	case ProfileSafari:
		return utls.HelloSafari_Auto, true
	default:
		return utls.ClientHelloID{}, false
	}
}

// New returns a RoundTripper presenting the given browser profile.
// ProfileStandard (or an unknown profile) yields a plain http.Transport.
func New(profile Profile, timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	hello, ok := profile.helloID()
	if !ok {
		return &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: timeout,
			ForceAttemptHTTP2:   true,
		}
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialFingerprinted(ctx, dialer, hello, network, addr)
	}

	return &fingerprintTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialContext:       dialer.DialContext,
			DialTLSContext:    dial,
			ForceAttemptHTTP2: false,
		},
	}
}

// NewChromeTransport returns a RoundTripper with Chrome's TLS fingerprint.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	return New(ProfileChrome, timeout)
}

type fingerprintTransport struct {
	h2 *http2.Transport
	h1 *http.Transport

	h1Hosts sync.Map // host → struct{}; hosts that refused h2
}

// RoundTrip implements http.RoundTripper.
func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	if _, ok := t.h1Hosts.Load(req.URL.Host); ok {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return nil, ctxErr
	}

	t.h1Hosts.Store(req.URL.Host, struct{}{})
	return t.h1.RoundTrip(req)
}

// dialFingerprinted opens a TLS connection presenting hello.
func dialFingerprinted(ctx context.Context, dialer *net.Dialer, hello utls.ClientHelloID, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, hello)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
