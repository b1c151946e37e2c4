package wsconn

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/hioload/wsgate/internal/httpupgrade"
)

// webSocketGUID is the RFC 6455 accept-key magic string.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptedVersions covers RFC 6455 (13) and the drafts it superseded.
var acceptedVersions = map[int]bool{4: true, 5: true, 6: true, 7: true, 8: true, 13: true}

// HandshakeConfig carries the hub's handshake-time policy into a single
// connection's handshake.
type HandshakeConfig struct {
	AllowClientsMissingConnectionHeaders bool
	SelectedProtocol                     string // echoed verbatim if non-empty
}

// Handshake runs the §4.D Server-role handshake: parse the upgrade
// request, validate its headers, call the authenticate hook, and either
// write a 101 response and call on_handshake_complete, or write a 400
// and return ErrUnsupportedVersion, or return an error with no response
// written at all (malformed request, rejected auth).
func (c *Connection) Handshake(cfg HandshakeConfig) error {
	req, err := httpupgrade.Parse(c.ch)
	if err != nil {
		return ErrHandshakeMalformed
	}
	defer req.Dispose()

	host, _ := req.Header("Host")
	if host == "" {
		return ErrHandshakeMalformed
	}

	connectionOK := headerContainsToken(req, "Connection", "upgrade") &&
		strings.EqualFold(headerValue(req, "Upgrade"), "websocket")

	if !connectionOK && cfg.AllowClientsMissingConnectionHeaders {
		_, hasVersion := req.Header("Sec-WebSocket-Version")
		_, hasKey := req.Header("Sec-WebSocket-Key")
		_, hasKey1 := req.Header("Sec-WebSocket-Key1")
		_, hasKey2 := req.Header("Sec-WebSocket-Key2")
		connectionOK = (hasVersion && hasKey) || (hasKey1 && hasKey2)
	}
	if !connectionOK {
		return ErrHandshakeMalformed
	}

	versionStr, _ := req.Header("Sec-WebSocket-Version")
	version, convErr := strconv.Atoi(versionStr)
	if convErr != nil || !acceptedVersions[version] {
		c.writeUpgradeError()
		return ErrUnsupportedVersion
	}

	key, hasKey := req.Header("Sec-WebSocket-Key")
	if !hasKey || key == "" {
		return ErrHandshakeMalformed
	}

	if c.hooks.Authenticate != nil {
		headers := snapshotHeaders(req)
		if !c.hooks.Authenticate(c, headers) {
			return ErrHandshakeRejected
		}
	}

	c.Host = host
	c.Origin, _ = req.Header("Origin")
	c.RequestLine = fmt.Sprintf("%s %s %s", req.MethodString(), req.PathString(), req.VersionString())
	c.Protocol = cfg.SelectedProtocol

	if err := c.writeUpgradeResponse(key, cfg.SelectedProtocol); err != nil {
		return err
	}

	if c.hooks.OnHandshakeComplete != nil {
		c.safeHook(func() { c.hooks.OnHandshakeComplete(c) })
	}
	return nil
}

func (c *Connection) writeUpgradeResponse(key, protocolName string) error {
	accept := computeAccept(key)
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(accept)
	b.WriteString("\r\n")
	if protocolName != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(protocolName)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	wb := c.ch.Alloc()
	wb.AppendBytes([]byte(b.String()))
	return wb.FlushAsync()
}

func (c *Connection) writeUpgradeError() {
	resp := "HTTP/1.1 400 Bad Request\r\nSec-WebSocket-Version: 13\r\n\r\n"
	wb := c.ch.Alloc()
	wb.AppendBytes([]byte(resp))
	wb.FlushAsync()
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerValue(req *httpupgrade.HttpRequest, name string) string {
	v, _ := req.Header(name)
	return v
}

func headerContainsToken(req *httpupgrade.HttpRequest, name, token string) bool {
	v, ok := req.Header(name)
	if !ok {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// snapshotHeaders copies the request's header values into a plain map for
// the authenticate hook, since HttpRequest's preserved buffers are
// released when Handshake returns.
func snapshotHeaders(req *httpupgrade.HttpRequest) map[string]string {
	out := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		out[k] = string(v.Bytes())
	}
	return out
}
