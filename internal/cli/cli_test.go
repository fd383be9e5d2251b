package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/grantcarthew/cdpconn/internal/cdp"
	"github.com/grantcarthew/cdpconn/internal/cdp/cdptest"
)

func init() {
	// Disable colors in tests to avoid ANSI codes in output assertions
	color.NoColor = true
}

// runCLI executes the root command with args and returns captured stdout and stderr.
// Tests using it must not run in parallel: the command tree and flags are global.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	oldOut, oldErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout, os.Stderr = outW, errW

	var wg sync.WaitGroup
	var stdout, stderr bytes.Buffer
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&stdout, outR) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&stderr, errR) }()

	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(context.Background())

	outW.Close()
	errW.Close()
	wg.Wait()
	os.Stdout, os.Stderr = oldOut, oldErr

	resetCommandFlags()
	return stdout.String(), stderr.String(), runErr
}

// resetCommandFlags restores every flag to its default between runs.
func resetCommandFlags() {
	resetFlags := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			// For slice types with DefValue "[]", use empty string to properly reset.
			defVal := f.DefValue
			if defVal == "[]" {
				defVal = ""
			}
			_ = f.Value.Set(defVal)
			f.Changed = false
		})
	}

	resetFlags(rootCmd.PersistentFlags())
	for _, cmd := range rootCmd.Commands() {
		resetFlags(cmd.Flags())
	}
	// pflag appends to string slices on Set; clear them explicitly.
	if f := listenCmd.Flags().Lookup("enable"); f != nil {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		}
	}

	Debug = false
	JSONOutput = false
	NoColor = false
}

func TestTryExpandCommand(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{prefix: "tar", expected: "targets"},
		{prefix: "targets", expected: ""},
		{prefix: "l", expected: "listen"},
		{prefix: "se", expected: "send"},
		{prefix: "s", expected: ""}, // send, shell
		{prefix: "zzz", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.expected, tryExpandCommand(tt.prefix))
		})
	}
}

func TestTargetsCommand(t *testing.T) {
	server := cdptest.NewServer(t, nil)

	stdout, _, err := runCLI(t, "targets", "--address", server.URL)
	require.NoError(t, err)
	assert.Contains(t, stdout, "SW1")
	assert.Contains(t, stdout, cdptest.PageID)
	assert.Contains(t, stdout, "about:blank - Test Page")
}

func TestTargetsCommand_JSON(t *testing.T) {
	server := cdptest.NewServer(t, nil)
	server.SetTargets(nil)

	stdout, _, err := runCLI(t, "targets", "--json", "--address", server.URL)
	require.NoError(t, err)

	var resp struct {
		OK      bool         `json:"ok"`
		Targets []cdp.Target `json:"targets"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.OK)
	assert.NotNil(t, resp.Targets)
	assert.Empty(t, resp.Targets)
}

func TestTargetsCommand_Unreachable(t *testing.T) {
	_, stderr, err := runCLI(t, "targets", "--address", "http://127.0.0.1:59999", "--timeout", "2s")
	require.Error(t, err)
	assert.True(t, IsPrintedError(err))
	assert.Contains(t, stderr, "Error: cannot list targets")
}

func TestSendCommand(t *testing.T) {
	server := cdptest.NewServer(t, func(p *cdptest.Peer) {
		for {
			req, err := p.ReadRequest()
			if err != nil {
				return
			}
			switch req.Method {
			case "Browser.getVersion":
				_ = p.Reply(req.ID, map[string]string{"product": "Chrome"})
			case "Echo.params":
				_ = p.Reply(req.ID, req.Params)
			default:
				_ = p.ReplyError(req.ID, -32601, "'"+req.Method+"' wasn't found")
			}
		}
	})

	t.Run("text result", func(t *testing.T) {
		stdout, _, err := runCLI(t, "send", "Browser.getVersion", "--address", server.URL)
		require.NoError(t, err)
		assert.JSONEq(t, `{"product":"Chrome"}`, stdout)
	})

	t.Run("json result", func(t *testing.T) {
		stdout, _, err := runCLI(t, "--json", "send", "Browser.getVersion", "--address", server.URL)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true,"result":{"product":"Chrome"}}`, stdout)
	})

	t.Run("params are forwarded", func(t *testing.T) {
		stdout, _, err := runCLI(t, "send", "Echo.params", `{"url":"https://example.com"}`, "--address", server.URL)
		require.NoError(t, err)
		assert.JSONEq(t, `{"url":"https://example.com"}`, stdout)
	})

	t.Run("no params sends empty object", func(t *testing.T) {
		stdout, _, err := runCLI(t, "send", "Echo.params", "--address", server.URL)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, stdout)
	})

	t.Run("protocol error", func(t *testing.T) {
		_, stderr, err := runCLI(t, "send", "Bad.method", "--address", server.URL)
		require.Error(t, err)
		assert.True(t, IsPrintedError(err))
		assert.Contains(t, stderr, "Error: -32601 'Bad.method' wasn't found")
	})

	t.Run("protocol error json", func(t *testing.T) {
		_, stderr, err := runCLI(t, "--json", "send", "Bad.method", "--address", server.URL)
		require.Error(t, err)

		var resp struct {
			OK    bool `json:"ok"`
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(stderr), &resp))
		assert.False(t, resp.OK)
		assert.Equal(t, -32601, resp.Error.Code)
	})

	t.Run("invalid params", func(t *testing.T) {
		_, stderr, err := runCLI(t, "send", "Page.navigate", `[1,2]`, "--address", server.URL)
		require.Error(t, err)
		assert.Contains(t, stderr, "params must be a JSON object")
	})
}

func TestSendCommand_NoTarget(t *testing.T) {
	server := cdptest.NewServer(t, cdptest.Echo)

	_, stderr, err := runCLI(t, "send", "Browser.getVersion", "--address", server.URL, "--target", "iframe")
	require.Error(t, err)
	assert.Contains(t, stderr, `no "iframe" target`)
}

func TestSendCommand_Timeout(t *testing.T) {
	server := cdptest.NewServer(t, func(p *cdptest.Peer) {
		// Never reply.
		for {
			if _, err := p.ReadRaw(); err != nil {
				return
			}
		}
	})

	_, stderr, err := runCLI(t, "send", "Page.navigate", "--address", server.URL, "--timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, stderr, "Page.navigate: no response before timeout")
}

func TestListenCommand(t *testing.T) {
	server := cdptest.NewServer(t, func(p *cdptest.Peer) {
		for {
			req, err := p.ReadRequest()
			if err != nil {
				return
			}
			_ = p.Reply(req.ID, map[string]any{})
			if req.Method == "Network.enable" {
				_ = p.Emit("Page.loadEventFired", map[string]any{"timestamp": 1})
				_ = p.Emit("Network.requestWillBeSent", map[string]string{"requestId": "abc"})
			}
		}
	})

	stdout, _, err := runCLI(t, "--json", "listen", "Network.requestWillBeSent",
		"--enable", "Page,Network", "--count", "1", "--address", server.URL)
	require.NoError(t, err)

	var evt cdp.Event
	require.NoError(t, json.Unmarshal([]byte(stdout), &evt))
	assert.Equal(t, "Network.requestWillBeSent", evt.Method)
	assert.JSONEq(t, `{"requestId":"abc"}`, string(evt.Params))
}

func TestListenCommand_PeerCloses(t *testing.T) {
	server := cdptest.NewServer(t, func(p *cdptest.Peer) {
		req, err := p.ReadRequest()
		if err != nil {
			return
		}
		_ = p.Reply(req.ID, map[string]any{})
		_ = p.Emit("Runtime.executionContextCreated", map[string]any{})
		time.Sleep(50 * time.Millisecond)
		_ = p.Close("target closed")
	})

	stdout, stderr, err := runCLI(t, "listen", "--enable", "Runtime", "--address", server.URL)
	require.Error(t, err)
	assert.Contains(t, stdout, "Runtime.executionContextCreated {}")
	assert.Contains(t, stderr, "connection closed")
}

func TestEnqueueEvent_FullBufferIsReported(t *testing.T) {
	// Observe at the default CLI level so the report is visible without --debug.
	core, logs := observer.New(zapcore.WarnLevel)
	prev := log
	log = zapr.NewLogger(zap.New(core))
	t.Cleanup(func() { log = prev })

	events := make(chan cdp.Event, 1)
	assert.True(t, enqueueEvent(events, cdp.Event{Method: "Page.loadEventFired"}))
	assert.False(t, enqueueEvent(events, cdp.Event{Method: "Network.dataReceived"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Dropping event", entries[0].Message)
	assert.Equal(t, "Network.dataReceived", entries[0].ContextMap()["method"])
}

func TestParseShellLine(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantMethod string
		wantParams string
		wantErr    bool
	}{
		{name: "method only", input: "Browser.getVersion", wantMethod: "Browser.getVersion"},
		{name: "method and params", input: `Page.navigate {"url":"https://example.com"}`, wantMethod: "Page.navigate", wantParams: `{"url":"https://example.com"}`},
		{name: "extra whitespace", input: `  Runtime.evaluate   {"expression":"1 + 1"}  `, wantMethod: "Runtime.evaluate", wantParams: `{"expression":"1 + 1"}`},
		{name: "not a method", input: "navigate", wantErr: true},
		{name: "invalid params", input: "Page.navigate {url}", wantErr: true},
		{name: "non-object params", input: `Page.navigate "x"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, params, err := parseShellLine(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, method)
			assert.Equal(t, tt.wantParams, string(params))
		})
	}
}

func TestShell_Exec(t *testing.T) {
	server := cdptest.NewServer(t, func(p *cdptest.Peer) {
		for {
			req, err := p.ReadRequest()
			if err != nil {
				return
			}
			if req.Method == "Bad.method" {
				_ = p.ReplyError(req.ID, -32601, "not found")
				continue
			}
			_ = p.Reply(req.ID, req.Params)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := cdp.Dial(ctx, cdp.Options{Address: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	sh := newShell(conn, &out, 5*time.Second)
	sh.opts = outputOptions()

	assert.False(t, sh.exec(ctx, `Page.navigate {"url":"https://example.com"}`))
	assert.JSONEq(t, `{"url":"https://example.com"}`, out.String())

	out.Reset()
	assert.False(t, sh.exec(ctx, "Bad.method"))
	assert.Equal(t, "Error: -32601 not found\n", out.String())

	out.Reset()
	assert.False(t, sh.exec(ctx, "bogus"))
	assert.Contains(t, out.String(), "unknown command: bogus")

	out.Reset()
	assert.False(t, sh.exec(ctx, "hi"))
	assert.True(t, strings.HasPrefix(out.String(), "  1  Page.navigate"))
	assert.Contains(t, out.String(), "  4  hi")

	out.Reset()
	assert.False(t, sh.exec(ctx, "help"))
	assert.Contains(t, out.String(), "Domain.method")

	assert.True(t, sh.exec(ctx, "exit"))
	assert.True(t, sh.exec(ctx, "q"))
}

func TestExpandAbbreviation(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
		ok       bool
	}{
		{prefix: "e", expected: "exit", ok: true},
		{prefix: "Q", expected: "quit", ok: true},
		{prefix: "he", expected: "help", ok: true},
		{prefix: "h", ok: false},
		{prefix: "x", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, ok := expandAbbreviation(tt.prefix, shellCommands)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}
