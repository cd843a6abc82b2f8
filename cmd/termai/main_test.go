package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ccastromar/termai/internal/assistant"
	"github.com/ccastromar/termai/internal/config"
	"github.com/ccastromar/termai/internal/llm"
)

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.ran = true
	return f.err
}

func stubFatalf(t *testing.T) *bool {
	t.Helper()
	old := fatalf
	t.Cleanup(func() { fatalf = old })
	called := false
	fatalf = func(format string, v ...any) { called = true }
	return &called
}

func stubCtor(t *testing.T, r runner, err error) {
	t.Helper()
	old := appCtor
	t.Cleanup(func() { appCtor = old })
	appCtor = func(*config.EnvVars, llm.ProviderConfig) (runner, error) { return r, err }
}

func TestRun_Success(t *testing.T) {
	fr := &fakeRunner{}
	stubCtor(t, fr, nil)
	calledFatal := stubFatalf(t)

	run(context.Background(), &config.EnvVars{}, llm.ProviderConfig{})

	require.True(t, fr.ran)
	require.False(t, *calledFatal)
}

func TestRun_FatalOnCtorError(t *testing.T) {
	stubCtor(t, nil, errors.New("boom"))
	calledFatal := stubFatalf(t)

	run(context.Background(), &config.EnvVars{}, llm.ProviderConfig{})

	require.True(t, *calledFatal)
}

func TestRun_FatalOnRunError(t *testing.T) {
	stubCtor(t, &fakeRunner{err: errors.New("oops")}, nil)
	calledFatal := stubFatalf(t)

	run(context.Background(), &config.EnvVars{}, llm.ProviderConfig{})

	require.True(t, *calledFatal)
}

func TestParseFlags(t *testing.T) {
	o, args, err := parseFlags([]string{"--no-stream", "-c", "-", "--profile", "work", "why", "is", "this", "slow"})
	require.NoError(t, err)
	require.True(t, o.noStream)
	require.Equal(t, "-", o.contextFile)
	require.Equal(t, "work", o.profile)
	require.Equal(t, []string{"why", "is", "this", "slow"}, args)

	_, _, err = parseFlags([]string{"--bogus"})
	require.Error(t, err)
}

func TestLoadConfig_FlagsOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "termai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  local:\n    provider: ollama\n    model: from-file\n"), 0o600))

	_, cfg, err := loadConfig(options{configPath: path})
	require.NoError(t, err)
	require.Equal(t, llm.ProviderOllama, cfg.Provider)
	require.Equal(t, "from-file", cfg.Model)

	_, cfg, err = loadConfig(options{configPath: path, model: "from-flag"})
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.Model)

	_, _, err = loadConfig(options{configPath: filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
}

func TestReadContext(t *testing.T) {
	got, err := readContext("", strings.NewReader("ignored"))
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = readContext("-", strings.NewReader("$ make\nerror: boom\n"))
	require.NoError(t, err)
	require.Equal(t, "$ make\nerror: boom\n", got)

	path := filepath.Join(t.TempDir(), "ctx.log")
	require.NoError(t, os.WriteFile(path, []byte("line"), 0o600))
	got, err = readContext(path, nil)
	require.NoError(t, err)
	require.Equal(t, "line", got)
}

type scriptedLLM struct {
	parts []string
	block bool
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return nil }

func (s *scriptedLLM) Chat(ctx context.Context, msgs []llm.ChatMessage) (string, error) {
	return strings.Join(s.parts, ""), nil
}

func (s *scriptedLLM) ChatStream(ctx context.Context, msgs []llm.ChatMessage, onChunk func(llm.StreamChunk) error) error {
	for _, p := range s.parts {
		if err := onChunk(llm.StreamChunk{Content: p}); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
	}
	return onChunk(llm.StreamChunk{Done: true})
}

func newAssistant(t *testing.T, c llm.LLMClient) *assistant.Assistant {
	t.Helper()
	a, err := assistant.New(llm.ProviderConfig{Provider: llm.ProviderOllama, Model: "m"}, assistant.WithClient(c))
	require.NoError(t, err)
	return a
}

func TestAsk_Stream(t *testing.T) {
	a := newAssistant(t, &scriptedLLM{parts: []string{"use ", "ls -la"}})
	var out bytes.Buffer

	require.NoError(t, ask(context.Background(), a, "list files", "", true, &out))
	require.Equal(t, "use ls -la\n", out.String())
	require.Zero(t, a.Pool().Stats().Outstanding())
}

func TestAsk_Blocking(t *testing.T) {
	a := newAssistant(t, &scriptedLLM{parts: []string{"use ", "ls"}})
	var out bytes.Buffer

	require.NoError(t, ask(context.Background(), a, "list files", "", false, &out))
	require.Equal(t, "use ls\n", out.String())
}

func TestAsk_InterruptEndsWithCancelled(t *testing.T) {
	a := newAssistant(t, &scriptedLLM{parts: []string{"partial "}, block: true})
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ask(ctx, a, "long answer", "", true, &out) }()

	require.Eventually(t, func() bool { return a.Active() != nil }, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, llm.ErrCancelled)
	require.Zero(t, a.Pool().Stats().Outstanding())
}
