package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"nextgen/internal/cli/command"
	"nextgen/internal/cli/config"
	httpclient "nextgen/internal/cli/http"
	"nextgen/internal/cli/repl"
)

const defaultConfigPath = "configs/cli.yaml"

// With trailing arguments the CLI runs that single command and exits,
// e.g. runner-cli run file=./main.c input="Larry". Otherwise it starts a REPL.
func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	language := flag.String("language", "", "Override default language")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *language != "" {
		cfg.Language = *language
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	session := repl.New(client, command.Registry(), cfg.Language, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)

	if args := flag.Args(); len(args) > 0 {
		if err := session.Exec(context.Background(), args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	session.Run(context.Background(), os.Stdin)
}
