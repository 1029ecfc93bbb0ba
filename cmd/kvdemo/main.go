// Command kvdemo is a small REPL around a kvengine.Engine: it exists
// so the library has a runnable entry point, not as an in-scope
// component. Grounded on cmd/server/main.go's config loading and
// cmd/client/main.go's readline REPL shape.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pokhanto/kvengine"
	"github.com/pokhanto/kvengine/internal/config"
	"github.com/pokhanto/kvengine/internal/htable"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to a kvengine yaml config (optional, defaults are used otherwise)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			slog.Error("kvdemo: load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	engine, err := kvengine.Open(cfg)
	if err != nil {
		slog.Error("kvdemo: open engine", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("kvdemo: close engine", "err", err)
		}
	}()

	table, err := kvengine.OpenTable[string, string](engine, "kvdemo")
	if err != nil {
		slog.Error("kvdemo: open table", "err", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kvdemo> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		slog.Error("kvdemo: readline", "err", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("kvdemo: put <key> <value> | get <key> | del <key> | stats | quit")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}

		if err := runCommand(table, engine, strings.TrimSpace(line)); err != nil {
			if err == errQuit {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func runCommand(table *htable.HashTable[string, string], engine *kvengine.Engine, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "quit", "exit":
		return errQuit

	case "put":
		if len(fields) < 3 {
			return fmt.Errorf("usage: put <key> <value...>")
		}
		return table.Insert(fields[1], strings.Join(fields[2:], " "))

	case "get":
		if len(fields) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		v, ok, err := table.Get(fields[1])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(v)
		return nil

	case "del":
		if len(fields) != 2 {
			return fmt.Errorf("usage: del <key>")
		}
		found, err := table.Remove(fields[1])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
		}
		return nil

	case "stats":
		s := engine.Stats()
		fmt.Printf("hits=%d misses=%d evictions=%d\n", s.Hits, s.Misses, s.Evictions)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", fields[0])
	}
}
