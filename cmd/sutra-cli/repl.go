package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sutraworks/sutra/pkg/steno"
)

const replHelp = `
sutra interactive shell — available commands:

  Anything else you type is sent as an English command (PARSE_INTENT).

  \stroke <RTFCRE>[/<RTFCRE>...]   Send steno strokes (e.g. \stroke RAOE/PWAOT)
  \undo                            Undo the last command
  \redo                            Redo the last undone command
  \history                         Show the stroke history ring
  \stats                           Core statistics
  \ping                            Check server health
  \help                            This help
  \quit                            Leave the shell
`

// repl runs the interactive loop.
func (c *cli) repl() error {
	if err := c.get("/healthz", nil); err != nil {
		return fmt.Errorf("cannot reach %s: %w", c.conn.BaseURL(), err)
	}
	fmt.Printf("connected to %s\n", c.conn.BaseURL())
	fmt.Println(`type \help for commands`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("sutra> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, `\`) {
			if quit := c.command(line); quit {
				return nil
			}
			continue
		}

		if err := c.sendIntent(line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

// command dispatches one backslash command; returns true to quit.
func (c *cli) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\quit`, `\q`, `\exit`:
		return true

	case `\help`:
		fmt.Print(replHelp)

	case `\ping`:
		var out map[string]any
		if err := c.get("/healthz", &out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			break
		}
		fmt.Printf("ok, kernel clock %v µs\n", out["now_micros"])

	case `\stats`:
		var out map[string]any
		if err := c.get("/v1/stats", &out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			break
		}
		pretty, _ := json.MarshalIndent(out["stats"], "", "  ")
		fmt.Println(string(pretty))

	case `\history`:
		var out struct {
			History []struct {
				Stroke  string `json:"stroke"`
				Name    string `json:"name"`
				Concept string `json:"concept"`
				Undone  bool   `json:"undone"`
			} `json:"history"`
		}
		if err := c.get("/v1/history", &out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			break
		}
		if len(out.History) == 0 {
			fmt.Println("(empty)")
			break
		}
		for _, e := range out.History {
			label := e.Name
			if label == "" {
				label = e.Concept
			}
			mark := " "
			if e.Undone {
				mark = "↩"
			}
			fmt.Printf(" %s %-12s %s\n", mark, e.Stroke, label)
		}

	case `\undo`, `\redo`:
		path := "/v1/undo"
		if fields[0] == `\redo` {
			path = "/v1/redo"
		}
		var out map[string]any
		if err := c.post(path, map[string]any{}, &out); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			break
		}
		fmt.Println(out)

	case `\stroke`:
		if len(fields) < 2 {
			fmt.Println(`usage: \stroke RAOE/PWAOT`)
			break
		}
		seq, err := steno.ParseSequence(fields[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			break
		}
		for i := 0; i < seq.Len(); i++ {
			if err := c.post("/v1/stroke", map[string]uint32{"bits": uint32(seq.At(i))}, nil); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				break
			}
		}
		fmt.Printf("sent %d stroke(s)\n", seq.Len())

	default:
		fmt.Printf("unknown command %s — \\help lists commands\n", fields[0])
	}
	return false
}
