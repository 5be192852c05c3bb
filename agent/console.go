package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"collabtext/internal/session"
)

const usage = `commands:
  mode <name>          switch the room's document mode
  kill                 tear the room down for everyone
  status               show room, role, mode and kill state
  insert <index> <t>   insert text at index
  delete <index>       delete the character at index
  show                 print the document
  quit                 leave the room`

// lockedWriter serialises output from the console and from session
// observers, which run on the session's own goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format+"\n", args...)
}

type console struct {
	ctrl *session.Controller
	doc  *document
	out  *lockedWriter

	// quitArmed is set after the unload warning was shown once.
	quitArmed bool
}

func newConsole(ctrl *session.Controller, doc *document, out io.Writer) *console {
	c := &console{ctrl: ctrl, doc: doc, out: &lockedWriter{w: out}}
	ctrl.OnModeChanged(func(mode string) { c.out.Printf("mode: %s", mode) })
	ctrl.OnKilling(func() { c.out.Printf("killing room...") })
	ctrl.OnKilled(func() { c.out.Printf("room killed") })
	return c
}

// run reads commands from in until quit, EOF, ctx is done or the room is
// killed.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
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
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctrl.Killed():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if c.exec(line) {
				return nil
			}
		}
	}
}

// exec runs one command and reports whether the console should exit.
func (c *console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	if fields[0] != "quit" {
		c.quitArmed = false
	}
	switch fields[0] {
	case "mode":
		if len(fields) != 2 {
			c.out.Printf("usage: mode <name>")
			return false
		}
		c.ctrl.ChangeMode(fields[1])
	case "kill":
		c.ctrl.RequestKill()
	case "status":
		s := c.ctrl.State()
		c.out.Printf("room %s, %s, mode %s (%s), kill %s", s.Room, s.Role, s.Mode, s.ModeSource, s.Kill)
	case "insert":
		if len(fields) < 3 {
			c.out.Printf("usage: insert <index> <text>")
			return false
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			c.out.Printf("bad index %q", fields[1])
			return false
		}
		if err := c.doc.Insert(index, strings.Join(fields[2:], " ")); err != nil {
			c.out.Printf("insert: %v", err)
		}
	case "delete":
		if len(fields) != 2 {
			c.out.Printf("usage: delete <index>")
			return false
		}
		index, err := strconv.Atoi(fields[1])
		if err != nil {
			c.out.Printf("bad index %q", fields[1])
			return false
		}
		if err := c.doc.Delete(index); err != nil {
			c.out.Printf("delete: %v", err)
		}
	case "show":
		c.out.Printf("%s", c.doc)
	case "quit":
		if msg, warn := c.ctrl.UnloadWarning(); warn && !c.quitArmed {
			c.quitArmed = true
			c.out.Printf("%s (type quit again to leave)", msg)
			return false
		}
		return true
	case "help":
		c.out.Printf("%s", usage)
	default:
		c.out.Printf("unknown command %q\n%s", fields[0], usage)
	}
	return false
}
