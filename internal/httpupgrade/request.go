// Package httpupgrade implements the §4.C streaming HTTP/1.1 upgrade
// parser: a two-state StartLine→Headers machine that consumes a
// channel's segmented read stream and keeps every parsed field as a
// preserved view into the channel's pooled memory, leaving whatever bytes
// follow the terminating blank line in the channel for the frame codec
// to pick up next. Delimiter searches copy the buffered bytes (see
// channel.ReadableBuffer.TrySliceTo).
//
// Grounded on the teacher's DoHandshakeCore (protocol/handshake.go),
// rewritten from a synchronous bufio.Reader read to the channel
// contract's repeat-read/advance discipline.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpupgrade

import (
	"strings"

	"github.com/hioload/wsgate/channel"
)

// canonicalHeaders maps a lowercased header name to its canonical-cased
// form, matching the ~19 most common headers a WebSocket handshake or its
// surrounding HTTP traffic is expected to carry. Anything outside this
// table is stored under its raw ASCII name.
var canonicalHeaders = map[string]string{
	"host":                     "Host",
	"connection":               "Connection",
	"upgrade":                  "Upgrade",
	"sec-websocket-key":        "Sec-WebSocket-Key",
	"sec-websocket-version":    "Sec-WebSocket-Version",
	"sec-websocket-protocol":   "Sec-WebSocket-Protocol",
	"sec-websocket-extensions": "Sec-WebSocket-Extensions",
	"sec-websocket-accept":     "Sec-WebSocket-Accept",
	"origin":                   "Origin",
	"user-agent":               "User-Agent",
	"content-length":           "Content-Length",
	"content-type":             "Content-Type",
	"cookie":                   "Cookie",
	"accept":                   "Accept",
	"accept-encoding":          "Accept-Encoding",
	"accept-language":          "Accept-Language",
	"cache-control":            "Cache-Control",
	"pragma":                   "Pragma",
	"referer":                  "Referer",
}

func canonicalize(name string) string {
	if c, ok := canonicalHeaders[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// HttpRequest holds the four preserved byte ranges of a parsed request:
// method, path, version, and a canonicalized header map. Every preserved
// buffer it holds must be released by exactly one Dispose call.
type HttpRequest struct {
	Method  *channel.PreservedBuffer
	Path    *channel.PreservedBuffer
	Version *channel.PreservedBuffer
	Headers map[string]*channel.PreservedBuffer
}

// Header returns a header's value as a string, and whether it was present.
// Lookup canonicalizes name the same way the parser canonicalized keys on
// insert, so callers can query with any casing.
func (r *HttpRequest) Header(name string) (string, bool) {
	v, ok := r.Headers[canonicalize(name)]
	if !ok {
		return "", false
	}
	return string(v.Bytes()), true
}

// MethodString returns the parsed request method.
func (r *HttpRequest) MethodString() string { return string(r.Method.Bytes()) }

// PathString returns the parsed request path.
func (r *HttpRequest) PathString() string { return string(r.Path.Bytes()) }

// VersionString returns the parsed HTTP version token.
func (r *HttpRequest) VersionString() string { return string(r.Version.Bytes()) }

// Dispose releases every preserved buffer this request holds. It is safe
// to call more than once; PreservedBuffer.Release is itself idempotent.
func (r *HttpRequest) Dispose() {
	if r.Method != nil {
		r.Method.Release()
	}
	if r.Path != nil {
		r.Path.Release()
	}
	if r.Version != nil {
		r.Version.Release()
	}
	for _, v := range r.Headers {
		v.Release()
	}
}
