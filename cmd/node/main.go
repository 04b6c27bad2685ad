package main

import (
	"context"
	"log"
	"os"
	"strings"

	"lamportchat/config"
	"lamportchat/discovery"
	"lamportchat/node"
	"lamportchat/wire"
)

func main() {
	cfg, err := config.LoadNode(os.Args[1:])
	if err != nil {
		log.Fatal("[NODE] ", err)
	}

	addr := cfg.RelayAddr
	if addr == config.MDNSAddr {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.MDNSTimeout)
		addr, err = discovery.Lookup(ctx)
		cancel()
		if err != nil {
			log.Fatal("[MDNS] ", err)
		}
		log.Printf("[MDNS] found relay at %s", addr)
	}

	n := node.New(cfg.ID)

	// every stdin line is one chat message
	go func() {
		lr := wire.NewLineReader(os.Stdin)
		for {
			line, err := lr.Next()
			if err != nil {
				return
			}
			text := strings.TrimSpace(string(line))
			if text == "" {
				continue
			}
			m, err := n.Say(text)
			if err != nil {
				log.Printf("[NODE %s] not sent: %v", n.ID(), err)
				continue
			}
			log.Printf("[NODE %s] sent message: %s at %d", n.ID(), m.Content, m.Time)
		}
	}()

	if err := n.ConnectAndRun(addr); err != nil {
		log.Fatal("[NODE] ", err)
	}
}
