package carousel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"pkt.systems/carousel/internal/command"
	"pkt.systems/carousel/internal/eventbus"
	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/schema"
)

// console is the operator line interface on a local terminal: slash
// commands in, command results and scheduler events out.
type console struct {
	in      io.Reader
	handler *command.Handler
	bus     *eventbus.Bus

	mu  sync.Mutex
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer, handler *command.Handler, bus *eventbus.Bus) *console {
	if out == nil {
		out = io.Discard
	}
	return &console{in: in, out: out, handler: handler, bus: bus}
}

// readLines never returns while in blocks, so it runs outside the errgroup.
func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *console) run(ctx context.Context) error {
	log := logx.WithComponent(ctx, "console")
	events, unsubscribe := c.bus.Subscribe(schema.EventState, schema.EventRefresh, schema.EventError)
	defer unsubscribe()
	lines := make(chan string)
	go readLines(ctx, c.in, lines)
	log.Info("console start")
	c.printf("carousel console, /help for commands\n")
	for {
		select {
		case <-ctx.Done():
			log.Info("console stop")
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.printf("%s\n", formatEvent(event))
		case line, ok := <-lines:
			if !ok {
				log.Info("console input closed")
				return nil
			}
			if quit := c.execute(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *console) execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	res, handled, err := c.handler.Handle(ctx, line)
	if !handled {
		c.printf("commands start with /, try /help\n")
		return false
	}
	if err != nil {
		c.printf("error: %v\n", err)
		return false
	}
	for _, out := range res.Lines {
		c.printf("%s\n", out)
	}
	return res.Quit
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func formatEvent(event schema.StateEvent) string {
	switch event.Type {
	case schema.EventError:
		return fmt.Sprintf("! %s: %s", event.Reason, event.Error)
	case schema.EventRefresh:
		pages := make([]string, 0, len(event.Panes))
		for _, idx := range event.Panes {
			pages = append(pages, fmt.Sprintf("%d", idx+1))
		}
		return fmt.Sprintf("~ refresh %s (%s)", strings.Join(pages, ","), event.Reason)
	}
	state := event.State
	line := fmt.Sprintf("* %s page %d/%d (%s)", state.Phase, state.Current+1, state.PaneCount, event.Reason)
	if state.PaneCount == 0 {
		line = fmt.Sprintf("* %s no pages (%s)", state.Phase, event.Reason)
	}
	if state.Indicator != "" {
		line += " " + state.Indicator
	}
	return line
}
