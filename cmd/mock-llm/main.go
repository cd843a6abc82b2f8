// mock-llm serves fake OpenAI, Anthropic and Ollama chat endpoints.
//
//	mock-llm --addr :9000 --chunk-delay 50ms
//	TERMAI_PROVIDER=ollama TERMAI_ENDPOINT=http://localhost:9000/ollama termai "hello"
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ccastromar/termai/internal/logx"
	"github.com/ccastromar/termai/internal/mocks/providers"
)

var listenAndServe = http.ListenAndServe

func buildMux(opts providers.Options) *http.ServeMux {
	mux := http.NewServeMux()
	providers.RegisterHandlers(mux, opts)
	return mux
}

func run(args []string) error {
	var addr string
	var opts providers.Options

	flagSet := pflag.NewFlagSet("mock-llm", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":9000", "address to listen on")
	flagSet.DurationVar(&opts.ChunkDelay, "chunk-delay", 20*time.Millisecond, "pause between streamed fragments")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	logx.Info("MockLLM", "listening on %s (/openai, /anthropic, /ollama)", addr)
	return listenAndServe(addr, buildMux(opts))
}

func main() {
	if err := run(os.Args[1:]); err != nil && err != pflag.ErrHelp {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
