package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}

func TestContext_Transport_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_TraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trc_xyz")
	if v := GetTraceID(ctx); v != "trc_xyz" {
		t.Fatalf("trace_id: got %q", v)
	}
}

func TestContext_EmptyDefaults(t *testing.T) {
	ctx := context.Background()
	if v := GetRemoteAddr(ctx); v != "" {
		t.Fatalf("remote_addr default: got %q", v)
	}
	if v := GetTraceID(ctx); v != "" {
		t.Fatalf("trace_id default: got %q", v)
	}
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := GetTraceID(ctx)
	if len(id) != 8 {
		t.Fatalf("trace id = %q, want 8 hex chars", id)
	}
	if got := GetTraceID(EnsureTraceID(ctx)); got != id {
		t.Errorf("existing trace id replaced: %q -> %q", id, got)
	}
	if NewTraceID() == NewTraceID() {
		t.Error("trace ids repeat")
	}
}

func TestLogAttrs(t *testing.T) {
	if got := LogAttrs(context.Background()); len(got) != 2 || got[1] != "http" {
		t.Errorf("empty ctx attrs = %v", got)
	}
	ctx := WithRemoteAddr(WithTraceID(WithTransport(context.Background(), "mcp"), "abcd1234"), "203.0.113.9")
	want := []any{"transport", "mcp", "trace_id", "abcd1234", "remote_addr", "203.0.113.9"}
	got := LogAttrs(ctx)
	if len(got) != len(want) {
		t.Fatalf("attrs = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attrs[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	boom := func(context.Context, any) (any, error) { panic("boom") }

	_, err := Recovery(logger)(boom)(context.Background(), nil)
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Fatalf("err = %v, want *PanicError(boom)", err)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestLogging_TagsTransport(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	fail := func(context.Context, any) (any, error) { return nil, errors.New("nope") }

	ctx := WithTraceID(WithTransport(context.Background(), "mcp"), "abcd1234")
	if _, err := Logging(logger, "extract_url")(fail)(ctx, nil); err == nil {
		t.Fatal("error swallowed")
	}
	for _, want := range []string{"endpoint=extract_url", "transport=mcp", "trace_id=abcd1234", "error=nope"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log missing %q: %s", want, buf.String())
		}
	}
}

type echoReq struct {
	Word string `json:"word"`
}

func TestRegisterMCPTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	tool := &mcp.Tool{
		Name:        "echo",
		InputSchema: map[string]any{"type": "object"},
	}
	var transport string
	echo := func(ctx context.Context, req any) (any, error) {
		transport = GetTransport(ctx)
		r := req.(*echoReq)
		if r.Word == "" {
			return nil, errors.New("internal detail")
		}
		return map[string]string{"echo": r.Word}, nil
	}
	RegisterMCPTool(srv, tool, echo, DecodeArgs[echoReq](), func(error) string { return "public message" })

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"word": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if out["echo"] != "hi" || transport != "mcp" {
		t.Errorf("out = %v, transport = %q", out, transport)
	}

	// WHY: Tool errors go to remote clients; only the mapped text may leak.
	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	if text := res.Content[0].(*mcp.TextContent).Text; !strings.Contains(text, "public message") || strings.Contains(text, "internal detail") {
		t.Errorf("tool error text = %q", text)
	}
}
