package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/argus-labs/beacon/pkg/beacon"
	"github.com/argus-labs/beacon/pkg/challenge"
	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/rotisserie/eris"
)

var errQuit = eris.New("quit")

const consoleHelp = `commands:
  challenge <id>   ask another device to battle
  accept           accept the pending request
  decline          decline the pending request
  attack           strike once
  flee             leave the battle
  cancel           withdraw your request
  ack              close a finished battle
  buy <item>       buy an item from the shop
  stats            show your character
  shop             list items and prices
  status           show the current session
  scan             list devices nearby
  quit             exit
`

// console is a line-oriented front end for one device.
type console struct {
	dev *beacon.Device
	// discover lists advertised devices. Nil disables scan.
	discover func(ctx context.Context) ([]beacon.Presence, error)

	mu  sync.Mutex
	out io.Writer
}

func newConsole(
	dev *beacon.Device, out io.Writer, discover func(ctx context.Context) ([]beacon.Presence, error),
) *console {
	c := &console{dev: dev, out: out, discover: discover}
	dev.OnEvent(c.printEvent)
	return c
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run executes lines from in until quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("device %s ready, type help for commands\n", c.dev.ID())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if eris.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %s\n", err)
			}
		}
	}
}

// exec runs a single command line.
func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "help", "?":
		c.printf("%s", consoleHelp)
	case "challenge":
		if len(args) != 1 {
			return eris.New("usage: challenge <id>")
		}
		return c.dev.Challenge(ctx, args[0])
	case "accept":
		return c.dev.Respond(ctx, true)
	case "decline":
		return c.dev.Respond(ctx, false)
	case "attack":
		_, err := c.dev.Attack(ctx)
		return err
	case "flee":
		return c.dev.Flee(ctx)
	case "cancel":
		return c.dev.Cancel(ctx)
	case "ack":
		return c.dev.Acknowledge(ctx)
	case "buy":
		if len(args) == 0 {
			return eris.New("usage: buy <item>")
		}
		character, err := c.dev.Purchase(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		c.printf("bought %s: health %d, attack %d, gold %d\n",
			strings.Join(args, " "), character.Health, character.Attack, character.Gold)
	case "stats":
		character, err := c.dev.Character(ctx)
		if err != nil {
			return err
		}
		c.printf("%s: health %d, attack %d, gold %d\n",
			character.Name, character.Health, character.Attack, character.Gold)
	case "shop":
		catalog, err := c.dev.Catalog(ctx)
		if err != nil {
			return err
		}
		for _, it := range catalog.Items() {
			c.printf("  %-12s %4d gold  %s %+d\n", it.Name, it.Price, it.Stat, it.Delta)
		}
	case "status":
		session, ok, err := c.dev.Session(ctx)
		if err != nil {
			return err
		}
		if !ok {
			c.printf("idle\n")
			return nil
		}
		c.printf("%s with %s as %s (you %d, them %d)\n",
			session.State, session.OpponentID, session.Role, session.LocalHealth, session.OpponentHealth)
	case "scan":
		if c.discover == nil {
			return eris.New("discovery is not available")
		}
		devices, err := c.discover(ctx)
		if err != nil {
			return err
		}
		printDevices(c.printf, c.dev.ID(), devices)
	case "quit", "exit":
		return errQuit
	default:
		return eris.Errorf("unknown command %q, type help", verb)
	}
	return nil
}

func (c *console) printEvent(ev challenge.Event) {
	switch ev.Kind {
	case challenge.EventRequesting:
		c.printf("> challenged %s, waiting for an answer\n", ev.OpponentID)
	case challenge.EventResponding:
		c.printf("> %s wants to battle! accept or decline\n", ev.OpponentID)
	case challenge.EventBattleStarted:
		c.printf("> battle with %s started (you %d, them %d)\n", ev.OpponentID, ev.LocalHealth, ev.OpponentHealth)
	case challenge.EventExchange:
		c.printf("> you %d, them %d\n", ev.LocalHealth, ev.OpponentHealth)
	case challenge.EventResolved:
		if ev.Outcome == combat.OutcomeWin {
			c.printf("> you won against %s and earned %d gold, type ack\n", ev.OpponentID, ev.GoldAwarded)
		} else {
			c.printf("> you lost against %s, type ack\n", ev.OpponentID)
		}
	case challenge.EventIdle:
		c.printf("> session with %s closed (%s)\n", ev.OpponentID, ev.Reason)
	}
}

func printDevices(printf func(format string, args ...any), self string, devices []beacon.Presence) {
	shown := 0
	for _, p := range devices {
		if p.DeviceID == self {
			continue
		}
		status := "busy"
		if p.Available {
			status = "available"
		}
		printf("  %-20s %-16s %-9s health %d, attack %d\n", p.DeviceID, p.Name, status, p.Health, p.Attack)
		shown++
	}
	if shown == 0 {
		printf("no devices found\n")
	}
}
