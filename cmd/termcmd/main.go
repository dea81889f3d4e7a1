package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/msageha/termcmd/internal/daemon"
	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/setup"
	"github.com/msageha/termcmd/internal/uds"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "init":
		runInit(args)
	case "daemon":
		runDaemon(args)
	case "send":
		runSubmit(uds.CmdEnqueue, args)
	case "exec":
		runSubmit(uds.CmdProcess, args)
	case "stream":
		runStream(args)
	case "snapshot":
		call("", uds.CmdSnapshot, nil)
	case "collect":
		runCollect(args)
	case "ping":
		call("", uds.CmdPing, nil)
	case "reload":
		call("", uds.CmdReload, nil)
	case "shutdown":
		call("", uds.CmdShutdown, nil)
	case "version":
		fmt.Printf("termcmd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	base, err := setup.Run(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", base)
}

func runDaemon(_ []string) {
	workDir := mustWorkDir()

	cfg, err := daemon.LoadConfig(workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(workDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	d.SetVersion(version)

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

// senderFlags holds the flags shared by the submitting commands.
type senderFlags struct {
	id       string
	endpoint string
	max      int
	rest     []string
}

func parseSenderFlags(args []string, usage string) senderFlags {
	var f senderFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--sender", "--endpoint", "--max":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\nusage: %s\n", args[i], usage)
				os.Exit(1)
			}
			value := args[i+1]
			switch args[i] {
			case "--sender":
				f.id = value
			case "--endpoint":
				f.endpoint = value
			case "--max":
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					fmt.Fprintf(os.Stderr, "--max must be a non-negative integer, got %q\n", value)
					os.Exit(1)
				}
				f.max = n
			}
			i++
		default:
			f.rest = append(f.rest, args[i])
		}
	}
	return f
}

func runSubmit(command string, args []string) {
	usage := fmt.Sprintf("termcmd %s <raw> [--sender id] [--endpoint name]", submitName(command))
	f := parseSenderFlags(args, usage)
	if len(f.rest) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
	call(f.id, command, uds.SubmitParams{Raw: f.rest[0], SenderEndpoint: f.endpoint})
}

func submitName(command string) string {
	if command == uds.CmdProcess {
		return "exec"
	}
	return "send"
}

// runStream forwards stdin to the daemon chunk by chunk.
func runStream(args []string) {
	f := parseSenderFlags(args, "termcmd stream --sender id [--endpoint name]")
	if f.id == "" {
		fmt.Fprintln(os.Stderr, "usage: termcmd stream --sender id [--endpoint name]")
		os.Exit(1)
	}

	client := newClient(f.id)
	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			var res uds.FeedResult
			params := uds.FeedParams{SenderEndpoint: f.endpoint, Data: buf[:n]}
			if cerr := client.Call(uds.CmdFeed, params, &res); cerr != nil {
				fail(uds.CmdFeed, cerr)
			}
			printJSON(res)
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			os.Exit(1)
		}
	}
}

func runCollect(args []string) {
	f := parseSenderFlags(args, "termcmd collect [--sender id] [--max n]")
	call(f.id, uds.CmdCollect, uds.CollectParams{Max: f.max})
}

// call sends a command to the daemon on behalf of sender and prints the
// response data.
func call(sender, command string, params any) {
	var data json.RawMessage
	if err := newClient(sender).Call(command, params, &data); err != nil {
		fail(command, err)
	}
	printJSON(data)
}

func fail(command string, err error) {
	if errors.Is(err, uds.ErrDaemonUnavailable) {
		fmt.Fprintf(os.Stderr, "%s: %v\nIs the daemon running? Start it with: termcmd daemon\n", command, err)
		os.Exit(1)
	}
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
	} else {
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, apperrors.Message(err))
	}
	os.Exit(1)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "format response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func newClient(sender string) *uds.Client {
	c := uds.NewClient(filepath.Join(mustWorkDir(), uds.DefaultSocketName))
	c.SetSender(sender)
	return c
}

func mustWorkDir() string {
	workDir := setup.Find(".")
	if workDir == "" {
		fmt.Fprintln(os.Stderr, "error: .termcmd/ directory not found. Run 'termcmd init <dir>' first.")
		os.Exit(1)
	}
	return workDir
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `termcmd %s: terminal command framework

Usage: termcmd <command> [options]

Workspace:
  init [dir]                       Initialize .termcmd/ (default: current dir)
  daemon                           Run the daemon process

Requests (CLI to daemon):
  send <raw> [--sender id]         Queue raw command text
  exec <raw> [--sender id]         Process raw command text and wait for results
  stream --sender id               Feed stdin as a byte stream
  collect [--sender id] [--max n]  Take completed envelopes from the outbox
  snapshot                         List queued requests that have not run
  ping                             Show daemon state
  reload                           Load the command descriptor file again
  shutdown                         Stop the daemon

Utilities:
  version                          Show version
  help                             Show this help

`, version)
}
