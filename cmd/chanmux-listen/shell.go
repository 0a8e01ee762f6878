package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/client"
)

// shell runs listener commands against one client. Output goes to out, which
// is shared with the delivery goroutine.
type shell struct {
	client *client.Client
	out    io.Writer

	mu   sync.Mutex
	subs map[uuid.UUID][]*client.Subscription
}

func newShell(c *client.Client, out io.Writer) *shell {
	return &shell{
		client: c,
		out:    &lockedWriter{w: out},
		subs:   make(map[uuid.UUID][]*client.Subscription),
	}
}

// exec runs one command line. It returns true when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "subscribe", "sub", "listen":
		s.cmdSubscribe(args)
	case "unsubscribe", "unsub", "ignore":
		s.cmdUnsubscribe(args)
	case "list", "ls":
		s.cmdList()
	case "status":
		s.cmdStatus()
	case "connect":
		s.cmdConnect(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Channel Listener Commands:
  subscribe <channel-id>          - Listen on a channel
  unsubscribe <channel-id|all>    - Stop listening
  list                            - List active subscriptions
  status                          - Show connection status
  connect                         - Connect now and wait for the result
  help                            - Show this help
  quit                            - Exit`)
}

// subscribe adds a listener on channel that prints every message. A failed
// listen drops the handle again, since the client no longer holds it.
func (s *shell) subscribe(channel uuid.UUID) error {
	var (
		sub    *client.Subscription
		failed bool
	)
	handle, err := client.SubscribeFunc(s.client, nil, channel, func(payload []byte) {
		s.printMessage(channel, payload)
	}, client.WithCompletion(func(err error) {
		if err == nil {
			return
		}
		s.mu.Lock()
		failed = true
		s.forgetLocked(sub)
		s.mu.Unlock()
		fmt.Fprintf(s.out, "listen on %s failed: %v\n", channel, err)
	}))
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !failed {
		sub = handle
		s.subs[channel] = append(s.subs[channel], sub)
	}
	s.mu.Unlock()
	return nil
}

func (s *shell) forgetLocked(sub *client.Subscription) {
	if sub == nil {
		return
	}
	subs := s.subs[sub.Channel()]
	for i, other := range subs {
		if other == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(s.subs, sub.Channel())
	} else {
		s.subs[sub.Channel()] = subs
	}
}

func (s *shell) cmdSubscribe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: subscribe <channel-id>")
		return
	}
	channel, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid channel ID: %v\n", err)
		return
	}
	if err := s.subscribe(channel); err != nil {
		fmt.Fprintf(s.out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Subscribed to %s\n", channel)
}

func (s *shell) cmdUnsubscribe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: unsubscribe <channel-id|all>")
		return
	}

	var removed []*client.Subscription
	s.mu.Lock()
	if strings.EqualFold(args[0], "all") {
		for channel, subs := range s.subs {
			removed = append(removed, subs...)
			delete(s.subs, channel)
		}
	} else {
		channel, err := uuid.Parse(args[0])
		if err != nil {
			s.mu.Unlock()
			fmt.Fprintf(s.out, "Invalid channel ID: %v\n", err)
			return
		}
		removed = s.subs[channel]
		delete(s.subs, channel)
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		fmt.Fprintln(s.out, "No matching subscriptions")
		return
	}
	for _, sub := range removed {
		sub.Cancel()
	}
	fmt.Fprintf(s.out, "Removed %d subscription(s)\n", len(removed))
}

func (s *shell) cmdList() {
	s.mu.Lock()
	channels := make([]uuid.UUID, 0, len(s.subs))
	for channel := range s.subs {
		channels = append(channels, channel)
	}
	counts := make(map[uuid.UUID]int, len(s.subs))
	for channel, subs := range s.subs {
		counts[channel] = len(subs)
	}
	s.mu.Unlock()

	if len(channels) == 0 {
		fmt.Fprintln(s.out, "No active subscriptions")
		return
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].String() < channels[j].String()
	})

	fmt.Fprintf(s.out, "Subscriptions (%d):\n", s.client.Len())
	for _, channel := range channels {
		fmt.Fprintf(s.out, "  %s x%d\n", channel, counts[channel])
	}
}

func (s *shell) cmdStatus() {
	fmt.Fprintf(s.out, "Connection:    %s\n", s.client.Status())
	fmt.Fprintf(s.out, "Subscriptions: %d\n", s.client.Len())
}

func (s *shell) cmdConnect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Connect(ctx); err != nil {
		fmt.Fprintf(s.out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "Connected")
}

func (s *shell) printMessage(channel uuid.UUID, payload []byte) {
	ts := time.Now().Format("15:04:05.000")
	if utf8.Valid(payload) {
		fmt.Fprintf(s.out, "%s [%s] %s\n", ts, channel, payload)
		return
	}
	fmt.Fprintf(s.out, "%s [%s] %x\n", ts, channel, payload)
}

// lockedWriter serializes writes from the prompt and delivery goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
