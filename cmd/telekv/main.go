package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"

	"github.com/telekv/telekv/client"
)

var arguments struct {
	Addr string `help:"Address of telekv server to connect to." default:"127.0.0.1:6701"`
	VI   bool   `help:"Enable VI mode."`
}

func main() {
	kctx := kong.Parse(&arguments)

	cl := client.NewClient(arguments.Addr)
	defer cl.Stop()

	home, err := os.UserHomeDir()
	kctx.FatalIfErrorf(err)

	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:            filepath.Join(home, ".telekv.history"),
		DisableAutoSaveHistory: true,
		VimMode:                arguments.VI,
	})
	kctx.FatalIfErrorf(err)
	for {
		rl.SetPrompt("telekv> ")
		line, err := rl.Readline()
		if err == io.EOF {
			kctx.Exit(0)
		}
		if err != nil {
			if err.Error() == "Interrupt" {
				// CTRL-C - exit silently
				kctx.Exit(0)
			}
			kctx.FatalIfErrorf(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = rl.SaveHistory(line)
		if line == "quit" || line == "exit" {
			kctx.Exit(0)
		}
		if err := executeCommand(line, cl, os.Stdout); err != nil {
			kctx.Errorf("%s", err)
		}
	}
}
