package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/telekv/telekv/client"
	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
)

const helpText = `commands:
  put <key> <value>        insert or overwrite an entry
  get <key>                look up a value
  has <key>                check presence of a key
  delete <key>             remove an entry (no error if absent)
  scan [start] [prefix]    iterate entries in ascending key order
  health                   show the server health status
  compact                  trigger compaction on the server
  close                    close the remote store
  quit                     leave the shell`

func executeCommand(line string, cl *client.Client, out io.Writer) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(out, helpText)
		return nil
	case "put":
		if len(args) != 2 {
			return errors.Error("usage: put <key> <value>")
		}
		return cl.Put([]byte(args[0]), []byte(args[1]))
	case "get":
		if len(args) != 1 {
			return errors.Error("usage: get <key>")
		}
		value, err := cl.Get([]byte(args[0]))
		if err != nil {
			if errors.IsNotFound(err) {
				fmt.Fprintln(out, "(not found)")
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s\n", value)
		return nil
	case "has":
		if len(args) != 1 {
			return errors.Error("usage: has <key>")
		}
		has, err := cl.Has([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%v\n", has)
		return nil
	case "delete":
		if len(args) != 1 {
			return errors.Error("usage: delete <key>")
		}
		return cl.Delete([]byte(args[0]))
	case "scan":
		if len(args) > 2 {
			return errors.Error("usage: scan [start] [prefix]")
		}
		var start, prefix []byte
		if len(args) > 0 {
			start = []byte(args[0])
		}
		if len(args) > 1 {
			prefix = []byte(args[1])
		}
		return scan(cl, start, prefix, out)
	case "health":
		details, err := cl.HealthCheck()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", details)
		return nil
	case "compact":
		return cl.Compact(nil, nil)
	case "close":
		return cl.Close()
	default:
		return errors.Errorf("unknown command %q - try 'help'", cmd)
	}
}

func scan(cl *client.Client, start []byte, prefix []byte, out io.Writer) error {
	iter, err := cl.NewIteratorWithStartAndPrefix(start, prefix)
	if err != nil {
		return err
	}
	defer releaseIterator(iter)
	count := 0
	for iter.Next() {
		key, err := iter.Key()
		if err != nil {
			return err
		}
		value, err := iter.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s = %s\n", key, value)
		count++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	fmt.Fprintf(out, "(%d entries)\n", count)
	return nil
}

func releaseIterator(iter kv.Iterator) {
	// Best effort - the server reclaims abandoned handles on disconnect anyway
	_ = iter.Release()
}
