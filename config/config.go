// Package config reads process settings from the environment, with flag
// overrides. Every value has a default so the binaries start with no setup.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultRelayAddr   = "127.0.0.1:8080"
	DefaultTapAddr     = "tcp://127.0.0.1:5558"
	DefaultTapTopic    = "chat."
	DefaultTapWindow   = 500 * time.Millisecond
	DefaultMDNSTimeout = 5 * time.Second

	// MDNSAddr as a node relay address means "look the relay up via mDNS".
	MDNSAddr = "mdns"
)

// Relay configures the relay process.
type Relay struct {
	Addr     string // TCP bind address for nodes
	WSAddr   string // websocket gateway bind address, empty disables it
	TapZMQ   string // ZMQ PUB bind endpoint, empty disables it
	TapNATS  string // NATS server URL, empty disables it
	TapRedis string // Redis address, empty disables it
	MDNS     bool   // advertise the relay over mDNS
}

// Node configures a node process.
type Node struct {
	ID          string
	RelayAddr   string
	MDNSTimeout time.Duration
}

// Tap configures the monitor process.
type Tap struct {
	Addr   string
	Topic  string
	Window time.Duration
}

// LoadRelay reads RELAY_* variables, then applies flags from args.
func LoadRelay(args []string) (Relay, error) {
	c := Relay{
		Addr:     getenv("RELAY_ADDR", DefaultRelayAddr),
		WSAddr:   os.Getenv("RELAY_WS_ADDR"),
		TapZMQ:   os.Getenv("RELAY_TAP_ZMQ"),
		TapNATS:  os.Getenv("RELAY_TAP_NATS"),
		TapRedis: os.Getenv("RELAY_TAP_REDIS"),
	}
	mdns, err := getbool("RELAY_MDNS", false)
	if err != nil {
		return c, err
	}
	c.MDNS = mdns

	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "TCP bind address (host:port)")
	fs.StringVar(&c.WSAddr, "ws", c.WSAddr, "websocket gateway bind address")
	fs.StringVar(&c.TapZMQ, "tap-zmq", c.TapZMQ, "ZMQ PUB endpoint for the traffic tap")
	fs.StringVar(&c.TapNATS, "tap-nats", c.TapNATS, "NATS URL for the traffic tap")
	fs.StringVar(&c.TapRedis, "tap-redis", c.TapRedis, "Redis address for the traffic tap")
	fs.BoolVar(&c.MDNS, "mdns", c.MDNS, "advertise the relay over mDNS")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	if c.Addr == "" {
		return c, fmt.Errorf("config: relay address is empty")
	}
	return c, nil
}

// LoadNode reads NODE_* variables, then applies flags from args. A single
// positional argument is taken as the node id, like the original launcher.
func LoadNode(args []string) (Node, error) {
	c := Node{
		ID:        os.Getenv("NODE_ID"),
		RelayAddr: getenv("NODE_RELAY_ADDR", DefaultRelayAddr),
	}
	timeout, err := getduration("NODE_MDNS_TIMEOUT", DefaultMDNSTimeout)
	if err != nil {
		return c, err
	}
	c.MDNSTimeout = timeout

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.StringVar(&c.ID, "id", c.ID, "node identity (random when empty)")
	fs.StringVar(&c.RelayAddr, "relay", c.RelayAddr, `relay address, or "mdns"`)
	fs.DurationVar(&c.MDNSTimeout, "mdns-timeout", c.MDNSTimeout, "mDNS lookup timeout")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	if c.ID == "" && fs.NArg() > 0 {
		c.ID = fs.Arg(0)
	}
	return c, nil
}

// LoadTap reads TAP_* variables, then applies flags from args.
func LoadTap(args []string) (Tap, error) {
	c := Tap{
		Addr:  getenv("TAP_ADDR", DefaultTapAddr),
		Topic: getenv("TAP_TOPIC", DefaultTapTopic),
	}
	window, err := getduration("TAP_WINDOW", DefaultTapWindow)
	if err != nil {
		return c, err
	}
	c.Window = window

	fs := flag.NewFlagSet("tap", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "ZMQ endpoint of the relay tap")
	fs.StringVar(&c.Topic, "topic", c.Topic, "topic prefix to subscribe to")
	fs.DurationVar(&c.Window, "window", c.Window, "hold time before printing in clock order")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
