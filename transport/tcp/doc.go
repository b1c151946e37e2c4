// Package tcp provides the §6 channel contract's default concrete
// implementation: a net.Conn-backed Listener whose Accept returns the raw
// net.Conn, and a NewChannel helper that wraps it in a channel.Channel.
// The hub holds the raw connection (it closes it on a failed handshake);
// wsconn works only on the wrapping channel.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package tcp
