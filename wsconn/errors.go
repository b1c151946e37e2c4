package wsconn

import "errors"

var (
	// ErrHandshakeMalformed covers a request that §4.C/§4.D step 1 could
	// not parse or validate into a well-formed upgrade request.
	ErrHandshakeMalformed = errors.New("wsconn: malformed handshake request")
	// ErrHandshakeRejected is returned when the authenticate hook refuses
	// the connection.
	ErrHandshakeRejected = errors.New("wsconn: handshake rejected by authenticate hook")
	// ErrUnsupportedVersion is returned when Sec-WebSocket-Version is not
	// one of the accepted draft/RFC values.
	ErrUnsupportedVersion = errors.New("wsconn: unsupported Sec-WebSocket-Version")
	// ErrProtocolViolation names an ingress-loop framing violation that is
	// fatal to the connection per §4.D. The ingress loop answers such a
	// violation with Close 1002 and does not return this value.
	ErrProtocolViolation = errors.New("wsconn: protocol violation")
	// ErrConnectionClosed is returned by send when the connection is
	// already closing or closed.
	ErrConnectionClosed = errors.New("wsconn: connection closed")
	// ErrEgressOverflow is returned when a connection's bounded egress
	// queue is full; the connection is marked closed as a result.
	ErrEgressOverflow = errors.New("wsconn: egress queue overflow")
)
