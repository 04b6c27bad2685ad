package main

import (
	"log"
	"os"
	"time"

	zmq "github.com/pebbe/zmq4"

	"lamportchat/config"
	"lamportchat/tap"
)

func main() {
	cfg, err := config.LoadTap(os.Args[1:])
	if err != nil {
		log.Fatal("[TAP] ", err)
	}

	src, err := tap.NewZMQSource(cfg.Addr, cfg.Topic)
	if err != nil {
		log.Fatal("[TAP] ", err)
	}
	defer src.Close()
	log.Printf("[TAP] subscribed to %q on %s", cfg.Topic, cfg.Addr)

	o := tap.NewOrderer(cfg.Window)
	go printLoop(o, cfg.Window)

	for {
		ev, err := src.Recv()
		if err != nil {
			wait, stop := recvBackoff(err)
			if stop {
				log.Fatal("[TAP] ", err)
			}
			log.Println("[TAP] recv error:", err)
			time.Sleep(wait)
			continue
		}
		t := o.Add(ev)
		log.Printf("[TAP] observed %s t=%d (monitor t=%d)", ev.Topic(), ev.Time, t)
	}
}

const recvRetry = 100 * time.Millisecond

// recvBackoff reports how long to wait after a failed receive, or stop when
// the zmq context has been terminated and no further receive can succeed.
func recvBackoff(err error) (wait time.Duration, stop bool) {
	if zmq.AsErrno(err) == zmq.ETERM {
		return 0, true
	}
	return recvRetry, false
}

func printLoop(o *tap.Orderer, window time.Duration) {
	tick := window / 2
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	for range time.Tick(tick) {
		for _, ev := range o.Release() {
			m, err := ev.Message()
			if err != nil {
				log.Printf("[TAP] %s (from %s): %s", ev.Topic(), ev.Remote, ev.Line)
				continue
			}
			log.Printf("[TAP] t=%d %s: %s", m.Time, m.NodeID, m.Content)
		}
	}
}
