// termai asks an LLM about the terminal session.
//
//	termai "why does this build fail" --context-file build.log
//	tail -n 50 ~/.bash_history | termai --context-file - "what was I doing"
//	termai --serve
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ccastromar/termai/internal/app"
	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/llm"
	"github.com/ccastromar/termai/internal/logx"
)

// runner is the minimal interface our app must satisfy for running.
type runner interface{ Run(context.Context) error }

// appCtor is a constructor indirection to enable testing without launching the real app.
var appCtor = func(env *config.EnvVars, cfg llm.ProviderConfig) (runner, error) {
	return app.New(env, cfg)
}

// assistantCtor builds the assistant for one-shot questions.
var assistantCtor = func(cfg llm.ProviderConfig) (*assistant.Assistant, error) {
	return assistant.New(cfg)
}

// fatalf indirection allows testing fatal paths without exiting the test process.
var fatalf = log.Fatalf

type options struct {
	noStream    bool
	contextFile string
	serve       bool
	configPath  string
	profile     string
	provider    string
	model       string
	verbose     bool
}

func parseFlags(args []string) (options, []string, error) {
	var o options
	fs := pflag.NewFlagSet("termai", pflag.ContinueOnError)
	fs.BoolVar(&o.noStream, "no-stream", false, "wait for the whole reply instead of streaming it")
	fs.StringVarP(&o.contextFile, "context-file", "c", "", "terminal context to send along (- reads stdin)")
	fs.BoolVar(&o.serve, "serve", false, "run the local HTTP API instead of asking once")
	fs.StringVar(&o.configPath, "config", "", "provider profiles file (.yaml, .json, .jsonc)")
	fs.StringVarP(&o.profile, "profile", "p", "", "profile to use from the config file")
	fs.StringVar(&o.provider, "provider", "", "provider: openai, anthropic, ollama or custom")
	fs.StringVarP(&o.model, "model", "m", "", "model name")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log request details to stderr")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	return o, fs.Args(), nil
}

// loadConfig layers flags over the environment over the profile file.
func loadConfig(o options) (*config.EnvVars, llm.ProviderConfig, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, llm.ProviderConfig{}, err
	}
	if o.profile != "" {
		env.Profile = o.profile
	}
	if o.provider != "" {
		env.Provider = o.provider
	}
	if o.model != "" {
		env.Model = o.model
	}

	path := o.configPath
	if path == "" {
		path = env.ConfigFile
	}
	var file *config.File
	if path != "" {
		if file, err = config.LoadFile(path); err != nil {
			return nil, llm.ProviderConfig{}, err
		}
	}
	cfg, err := config.Resolve(env, file)
	if err != nil {
		return nil, llm.ProviderConfig{}, err
	}
	return env, cfg, nil
}

func readContext(path string, stdin io.Reader) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

// ask prints the reply to prompt on out. While streaming, a cancelled ctx
// stops the request and still waits for its terminal chunk.
func ask(ctx context.Context, a *assistant.Assistant, prompt, termContext string, stream bool, out io.Writer) error {
	if !stream {
		reply, err := a.Chat(ctx, prompt, termContext)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
		return nil
	}

	req, err := a.ChatStream(ctx, prompt, termContext)
	if err != nil {
		return err
	}
	err = req.Consume(context.WithoutCancel(ctx), func(c *assistant.Chunk) {
		defer c.Release()
		if !c.Done {
			fmt.Fprint(out, c.Content)
			return
		}
		fmt.Fprintln(out)
	})
	return err
}

func run(ctx context.Context, env *config.EnvVars, cfg llm.ProviderConfig) {
	a, err := appCtor(env, cfg)
	if err != nil {
		fatalf("error initializing app: %v", err)
		return
	}
	if err := a.Run(ctx); err != nil {
		fatalf("error running app: %v", err)
		return
	}
}

func main() {
	o, args, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	env, cfg, err := loadConfig(o)
	if err != nil {
		fatalf("error loading config: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.serve {
		logx.SetLevel(env.LogLevel)
		run(ctx, env, cfg)
		return
	}

	if o.verbose {
		logx.SetLevel("debug")
	} else {
		logx.SetLevel("warn")
	}

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: termai [flags] <prompt...>")
		os.Exit(2)
	}
	// Piped input is the terminal context unless a file was named.
	if o.contextFile == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
		o.contextFile = "-"
	}
	termContext, err := readContext(o.contextFile, os.Stdin)
	if err != nil {
		fatalf("error reading context: %v", err)
		return
	}
	a, err := assistantCtor(cfg)
	if err != nil {
		fatalf("error initializing assistant: %v", err)
		return
	}
	if err := ask(ctx, a, prompt, termContext, !o.noStream, os.Stdout); err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			os.Exit(130)
		}
		fatalf("error: %v", err)
	}
}
