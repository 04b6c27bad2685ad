package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"lamportchat/config"
	"lamportchat/discovery"
	"lamportchat/relay"
	"lamportchat/tap"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		log.Fatal("[RELAY] ", err)
	}

	sinks := openSinks(cfg)
	t := tap.New(log.Default(), sinks...)

	r := relay.New(relay.WithTap(t))
	ln, err := r.Listen(cfg.Addr)
	if err != nil {
		log.Fatal("[RELAY] ", err)
	}

	var mdns *zeroconf.Server
	if cfg.MDNS {
		port, err := discovery.PortOf(ln.Addr())
		if err != nil {
			log.Fatal("[MDNS] ", err)
		}
		mdns, err = discovery.Advertise(port)
		if err != nil {
			log.Fatal("[MDNS] ", err)
		}
		log.Printf("[MDNS] advertising %s on port %d", discovery.Service, port)
	}

	if cfg.WSAddr != "" {
		go func() {
			log.Printf("[GATEWAY] websocket gateway on %s", cfg.WSAddr)
			if err := http.ListenAndServe(cfg.WSAddr, relay.NewGateway(r)); err != nil {
				log.Fatal("[GATEWAY] ", err)
			}
		}()
	}

	err = r.Serve(ln)
	if mdns != nil {
		mdns.Shutdown()
	}
	if cerr := t.Close(); cerr != nil {
		log.Println("[TAP] close:", cerr)
	}
	log.Fatal("[RELAY] ", err)
}

func openSinks(cfg config.Relay) []tap.Sink {
	var sinks []tap.Sink
	if cfg.TapZMQ != "" {
		s, err := tap.NewZMQSink(cfg.TapZMQ)
		if err != nil {
			log.Fatal("[TAP] ", err)
		}
		log.Printf("[TAP] ZMQ PUB bound on %s", cfg.TapZMQ)
		sinks = append(sinks, s)
	}
	if cfg.TapNATS != "" {
		s, err := tap.NewNATSSink(cfg.TapNATS)
		if err != nil {
			log.Fatal("[TAP] ", err)
		}
		log.Printf("[TAP] publishing to NATS %s", cfg.TapNATS)
		sinks = append(sinks, s)
	}
	if cfg.TapRedis != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s, err := tap.NewRedisSink(ctx, cfg.TapRedis)
		cancel()
		if err != nil {
			log.Fatal("[TAP] ", err)
		}
		log.Printf("[TAP] publishing to Redis %s", cfg.TapRedis)
		sinks = append(sinks, s)
	}
	return sinks
}
