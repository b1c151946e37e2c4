// Command wsgate is the flag-parsed entrypoint wiring a hub.Hub with a
// plain echo handler and exposing its debug probes on SIGUSR1.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hioload/wsgate/control"
	"github.com/hioload/wsgate/hub"
	"github.com/hioload/wsgate/wsconn"
)

func main() {
	addr := flag.String("addr", ":9001", "listen address")
	shardCount := flag.Int("shards", 16, "connection registry shard count")
	bufferFragments := flag.Bool("buffer-fragments", true, "accumulate fragmented messages before dispatch")
	allowMissingConn := flag.Bool("allow-missing-connection-header", false, "accept handshakes missing Connection/Upgrade tokens")
	acceptCPU := flag.Int("accept-cpu", -1, "pin the accept goroutine to this logical CPU; -1 leaves it unpinned")
	flag.Parse()

	var pinCPU *int
	if *acceptCPU >= 0 {
		pinCPU = acceptCPU
	}

	hooks := wsconn.Hooks{
		OnText: func(c *wsconn.Connection, m *wsconn.Message) {
			text, _ := m.Text()
			if err := c.SendText(text); err != nil {
				log.Printf("wsgate: send text to %d failed: %v", c.ID, err)
			}
		},
		OnBinary: func(c *wsconn.Connection, m *wsconn.Message) {
			if err := c.SendBinary(m.Bytes()); err != nil {
				log.Printf("wsgate: send binary to %d failed: %v", c.ID, err)
			}
		},
		OnHandshakeComplete: func(c *wsconn.Connection) {
			log.Printf("wsgate: connection %d handshake complete (host=%s)", c.ID, c.Host)
		},
	}

	h := hub.New(hub.Config{
		ShardCount:                            *shardCount,
		BufferFragments:                       *bufferFragments,
		AllowClientsMissingConnectionHeaders: *allowMissingConn,
		AcceptCPU:                             pinCPU,
	}, hooks)

	control.RegisterReloadHook(func() {
		log.Printf("wsgate: config reloaded: %+v", h.Config().Get())
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGHUP)
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				control.TriggerHotReload()
				continue
			}
			log.Printf("wsgate: stats %v", h.Stats())
		}
	}()

	startErr := make(chan error, 1)
	go func() { startErr <- h.Start(*addr) }()
	log.Printf("wsgate: listening on %s", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-startErr:
		if err != nil {
			log.Fatalf("wsgate: listener error: %v", err)
		}
	case <-sigCh:
		log.Println("wsgate: shutdown signal received")
	}

	h.Stop()
	log.Println("wsgate: shutdown complete")
}
