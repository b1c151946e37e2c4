package httpupgrade

import (
	"errors"

	"github.com/hioload/wsgate/channel"
)

// ErrMalformedRequest is returned when the request-line or a header line
// does not match the expected shape.
var ErrMalformedRequest = errors.New("httpupgrade: malformed request")

// ErrUnexpectedEOF is returned when the channel completes before the
// terminating blank line is seen.
var ErrUnexpectedEOF = errors.New("httpupgrade: stream ended mid-request")

type parseState int

const (
	stateStartLine parseState = iota
	stateHeaders
)

// Parse consumes ch's input in a loop of (buffer, is_completed) reads
// until the blank-line CRLF terminating the header block, per §4.C. Each
// call inspects however much is currently buffered, advances the channel
// past whatever it fully consumed, and asks for more only when a line is
// not yet complete. The method, path, version and header values it keeps
// are zero-copy preserved views; locating each line terminator goes
// through TrySliceTo, which searches a temporary flattened copy of the
// buffered bytes.
func Parse(ch *channel.Channel) (*HttpRequest, error) {
	req := &HttpRequest{Headers: make(map[string]*channel.PreservedBuffer)}
	st := stateStartLine

	for {
		rb, completed, err := ch.ReadAsync()
		if err != nil {
			req.Dispose()
			return nil, err
		}

		switch st {
		case stateStartLine:
			lineView, _, ok := rb.TrySliceTo('\r', '\n')
			if !ok {
				if completed {
					req.Dispose()
					return nil, ErrUnexpectedEOF
				}
				continue
			}
			if err := parseStartLine(req, lineView); err != nil {
				req.Dispose()
				return nil, err
			}
			ch.Advance(lineView.Len() + 2)
			st = stateHeaders

		case stateHeaders:
			consumed, done, err := consumeHeaders(req, rb)
			if err != nil {
				ch.Advance(consumed)
				req.Dispose()
				return nil, err
			}
			ch.Advance(consumed)
			if done {
				return req, nil
			}
			if consumed == 0 && completed {
				req.Dispose()
				return nil, ErrUnexpectedEOF
			}
		}
	}
}

// parseStartLine splits "METHOD SP PATH SP VERSION" and preserves each
// field. lineView excludes the terminating CRLF.
func parseStartLine(req *HttpRequest, lineView channel.ReadableBuffer) error {
	method, afterMethod, ok := lineView.TrySliceTo(' ')
	if !ok {
		return ErrMalformedRequest
	}
	pathAndVersion := afterMethod.Slice(1)
	path, afterPath, ok := pathAndVersion.TrySliceTo(' ')
	if !ok {
		return ErrMalformedRequest
	}
	version := afterPath.Slice(1)

	req.Method = method.Preserve()
	req.Path = path.Preserve()
	req.Version = version.Preserve()
	return nil
}

// consumeHeaders processes as many complete header lines as are currently
// buffered in rb, returning the number of bytes fully consumed and
// whether the terminating blank line was reached.
func consumeHeaders(req *HttpRequest, rb channel.ReadableBuffer) (consumed int, done bool, err error) {
	cur := rb
	for {
		if cur.Len() >= 2 && cur.Peek() == '\r' && cur.Slice(1).Peek() == '\n' {
			return consumed + 2, true, nil
		}

		rawLine, rest, ok := cur.TrySliceTo('\n')
		if !ok {
			return consumed, false, nil
		}
		lineView := rawLine
		if n := lineView.Len(); n > 0 && lineView.Slice(n-1).Peek() == '\r' {
			lineView = lineView.Head(n - 1)
		}

		if err := parseHeaderLine(req, lineView); err != nil {
			return consumed, false, err
		}

		consumed += rawLine.Len() + 1 // +1 for the \n itself
		cur = rest.Slice(1)
	}
}

// parseHeaderLine splits "Name: Value", trims leading whitespace from
// both, canonicalizes the name, and preserves the value. Duplicate names
// replace the previous value, releasing it first.
func parseHeaderLine(req *HttpRequest, lineView channel.ReadableBuffer) error {
	nameView, afterColon, ok := lineView.TrySliceTo(':')
	if !ok {
		return ErrMalformedRequest
	}
	nameView = nameView.TrimStart()
	valueView := afterColon.Slice(1).TrimStart()

	name := canonicalize(nameView.GetASCIIString())
	if prev, exists := req.Headers[name]; exists {
		prev.Release()
	}
	req.Headers[name] = valueView.Preserve()
	return nil
}
