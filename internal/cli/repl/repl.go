package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"nextgen/internal/cli/command"
	httpclient "nextgen/internal/cli/http"

	"github.com/google/shlex"
)

var errExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	language     string
	prettyJSON   bool
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, language string, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		language:     language,
		prettyJSON:   prettyJSON,
		outputWriter: bufio.NewWriter(out),
	}
}

// Run reads commands from in until EOF or exit.
func (s *Session) Run(ctx context.Context, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		_, _ = s.outputWriter.WriteString("runner> ")
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.handleSystemCommand(line) {
			continue
		}

		tokens, perr := shlex.Split(line)
		if perr != nil {
			s.printLine("error: parse command failed: %v", perr)
			continue
		}
		if err := s.Exec(ctx, tokens); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs one already tokenised command.
func (s *Session) Exec(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("invalid command, use: <command> key=value ...")
	}
	if tokens[0] == "exit" || tokens[0] == "quit" {
		return errExit
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
	params, err := command.ParseParams(tokens[1:])
	if err != nil {
		return err
	}
	if cmd.Name == "run" && !params.Has("language") && !params.Has("lang") {
		params.Set("language", s.language)
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	reply, err := s.client.Send(ctx, req)
	if err != nil {
		return err
	}
	s.renderReply(reply)
	return nil
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if line == "show config" {
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("language: %s", s.language)
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set base|timeout|language <value>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "language":
		s.language = parts[1]
		s.printLine("language set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) renderReply(reply httpclient.Reply) {
	s.printLine("HTTP %d (%s)", reply.StatusCode, reply.Elapsed.Round(time.Millisecond))
	if len(reply.Body) == 0 {
		return
	}
	if body, ok := reply.RunBody(); ok && body.Truncated {
		s.printLine("note: output was truncated at the service cap")
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(reply.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", strings.TrimRight(string(reply.Body), "\n"))
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> key=value ...")
	s.printLine("system: help | exit | set base|timeout|language | show config")
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	s.printLine("commands:")
	for _, name := range names {
		s.printLine("  %s", s.commands[name].Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
