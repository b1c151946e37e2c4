package tcp

import (
	"net"

	"github.com/hioload/wsgate/channel"
)

// NewChannel wraps conn in a channel.Channel drawing from the listener's
// pool, giving the core engine the §6 contract over a live socket.
func (l *Listener) NewChannel(conn net.Conn) *channel.Channel {
	return channel.New(conn, l.pool)
}
