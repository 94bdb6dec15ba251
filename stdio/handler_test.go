package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/agent"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/completion/completiontest"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/tools"
	"github.com/DefikitTeam/claude-code-container-sub003/workspace"
)

// harness wires a Handler to in-memory pipes and collects stdout lines.
type harness struct {
	t        *testing.T
	in       io.WriteCloser
	lines    chan string
	serveErr chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, backend completion.Engine, opts ...agent.Option) *harness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts = append([]agent.Option{
		agent.WithLogger(slog.New(slog.DiscardHandler)),
		agent.WithWorkspaceDescriber(workspace.NewStatic(workspace.Description{
			RootPath: "/repo",
			Branch:   "main",
		})),
	}, opts...)
	a := agent.New(backend, opts...)
	h := NewHandler(a, WithIO(inR, outW))

	ctx, cancel := context.WithCancel(context.Background())
	th := &harness{
		t:        t,
		in:       inW,
		lines:    make(chan string, 64),
		serveErr: make(chan error, 1),
		cancel:   cancel,
	}

	go func() {
		th.serveErr <- h.Serve(ctx)
	}()
	go func() {
		sc := bufio.NewScanner(outR)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			th.lines <- line
		}
		close(th.lines)
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func (th *harness) send(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(th.in, line+"\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
}

func (th *harness) next(t *testing.T) string {
	t.Helper()
	select {
	case line, ok := <-th.lines:
		if !ok {
			t.Fatalf("stdout closed while waiting for a line")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for output line")
		return ""
	}
}

func (th *harness) nextResponse(t *testing.T) *jsonrpc.Response {
	t.Helper()
	line := th.next(t)
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if msg.Type() != "response" {
		t.Fatalf("expected response, got %s: %s", msg.Type(), line)
	}
	return msg.AsResponse()
}

func (th *harness) nextUpdate(t *testing.T) *acp.SessionNotification {
	t.Helper()
	line := th.next(t)
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if msg.Type() != "notification" || msg.Method != string(acp.SessionUpdateNotificationMethod) {
		t.Fatalf("expected session/update notification, got: %s", line)
	}
	var note acp.SessionNotification
	if err := json.Unmarshal(msg.AsRequest().Params, &note); err != nil {
		t.Fatalf("decode update params: %v", err)
	}
	return &note
}

func requestLine(t *testing.T, id any, method acp.Method, params any) string {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), string(method), params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	data, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return string(data)
}

func (th *harness) initialize(t *testing.T, caps acp.ClientCapabilities) *acp.InitializeResponse {
	t.Helper()
	th.send(t, requestLine(t, "init-1", acp.InitializeMethod, acp.InitializeRequest{
		ProtocolVersion:    acp.ProtocolVersion,
		ClientCapabilities: caps,
		ClientInfo:         &acp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}))
	resp := th.nextResponse(t)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	var out acp.InitializeResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	return &out
}

func (th *harness) newSession(t *testing.T) string {
	t.Helper()
	th.send(t, requestLine(t, "new-1", acp.SessionNewMethod, acp.NewSessionRequest{Cwd: "/repo"}))
	resp := th.nextResponse(t)
	if resp.Error != nil {
		t.Fatalf("session/new failed: %+v", resp.Error)
	}
	var out acp.NewSessionResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode session/new result: %v", err)
	}
	if out.SessionID == "" {
		t.Fatalf("missing session id")
	}
	return out.SessionID
}

func TestServeHandshakeAndPrompt(t *testing.T) {
	th := newHarness(t, completiontest.New(completiontest.Echo("hi there")))

	init := th.initialize(t, acp.ClientCapabilities{})
	if init.ProtocolVersion != acp.ProtocolVersion {
		t.Fatalf("protocol version = %d, want %d", init.ProtocolVersion, acp.ProtocolVersion)
	}
	if !init.AgentCapabilities.LoadSession {
		t.Fatalf("loadSession capability not advertised")
	}

	sid := th.newSession(t)

	th.send(t, requestLine(t, 1, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sid,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("hello")},
	}))

	note := th.nextUpdate(t)
	if note.SessionID != sid {
		t.Fatalf("update for session %q, want %q", note.SessionID, sid)
	}
	if note.SequenceNumber != 1 {
		t.Fatalf("first update sequence = %d, want 1", note.SequenceNumber)
	}
	if note.Update.Kind != acp.UpdateKindAgentMessageChunk {
		t.Fatalf("update kind = %q", note.Update.Kind)
	}
	if note.Update.Content == nil || note.Update.Content.Text != "hi there" {
		t.Fatalf("unexpected chunk content: %+v", note.Update.Content)
	}

	resp := th.nextResponse(t)
	if resp.Error != nil {
		t.Fatalf("prompt failed: %+v", resp.Error)
	}
	var out acp.PromptResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode prompt result: %v", err)
	}
	if out.StopReason != acp.StopReasonEndTurn {
		t.Fatalf("stop reason = %q", out.StopReason)
	}
	if out.Usage.InputTokens == 0 || out.Usage.OutputTokens == 0 {
		t.Fatalf("usage not reported: %+v", out.Usage)
	}

	// EOF on stdin ends Serve cleanly.
	_ = th.in.Close()
	select {
	case err := <-th.serveErr:
		if err != nil {
			t.Fatalf("Serve returned %v on EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after stdin EOF")
	}
}

func TestServeMalformedLineStillServiceable(t *testing.T) {
	th := newHarness(t, completiontest.New(nil))

	th.send(t, "{nope")
	resp := th.nextResponse(t)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected parse error, got: %+v", resp.Error)
	}
	if resp.ID == nil || !resp.ID.IsNil() {
		t.Fatalf("parse error must carry a null id, got %v", resp.ID)
	}

	// The connection survives the bad line.
	init := th.initialize(t, acp.ClientCapabilities{})
	if init.ProtocolVersion != acp.ProtocolVersion {
		t.Fatalf("initialize after bad line: %+v", init)
	}
}

func TestServeClientFSRoundTrip(t *testing.T) {
	backend := completiontest.New(func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		res, err := req.Tools.Dispatch(ctx, &tools.Call{
			ID:        "call-1",
			Name:      "read_text_file",
			Arguments: json.RawMessage(`{"path":"notes.md"}`),
			SessionID: req.SessionID,
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch read_text_file: %w", err)
		}
		if res.IsError {
			return nil, errors.New(res.Content)
		}
		events.MessageDelta(ctx, "file says: "+res.Content)
		return &completion.Result{StopReason: acp.StopReasonEndTurn}, nil
	})
	th := newHarness(t, backend)

	th.initialize(t, acp.ClientCapabilities{
		FS: acp.FSCapabilities{ReadTextFile: true, WriteTextFile: true},
	})
	sid := th.newSession(t)

	th.send(t, requestLine(t, 2, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sid,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("what do my notes say?")},
	}))

	// The agent asks us, the client, to read the file.
	line := th.next(t)
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if msg.Type() != "request" || msg.Method != string(acp.FsReadTextFileMethod) {
		t.Fatalf("expected fs/read_text_file request, got: %s", line)
	}
	fsReq := msg.AsRequest()
	var fsParams acp.ReadTextFileRequest
	if err := json.Unmarshal(fsReq.Params, &fsParams); err != nil {
		t.Fatalf("decode fs params: %v", err)
	}
	if fsParams.SessionID != sid || fsParams.Path != "notes.md" {
		t.Fatalf("unexpected fs params: %+v", fsParams)
	}

	fsResp, err := jsonrpc.NewResultResponse(fsReq.ID, acp.ReadTextFileResponse{Content: "remember the milk"})
	if err != nil {
		t.Fatalf("build fs response: %v", err)
	}
	data, err := jsonrpc.EncodeMessage(fsResp)
	if err != nil {
		t.Fatalf("encode fs response: %v", err)
	}
	th.send(t, string(data))

	note := th.nextUpdate(t)
	if note.Update.Content == nil || note.Update.Content.Text != "file says: remember the milk" {
		t.Fatalf("unexpected chunk after fs roundtrip: %+v", note.Update.Content)
	}

	resp := th.nextResponse(t)
	if resp.Error != nil {
		t.Fatalf("prompt failed: %+v", resp.Error)
	}
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	th := newHarness(t, completiontest.New(nil))
	th.initialize(t, acp.ClientCapabilities{})

	th.cancel()
	select {
	case err := <-th.serveErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestServeRejectsSecondCall(t *testing.T) {
	a := agent.New(completiontest.New(nil), agent.WithLogger(slog.New(slog.DiscardHandler)))
	h := NewHandler(a, WithIO(strings.NewReader(""), io.Discard))
	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("first Serve: %v", err)
	}
	if err := h.Serve(context.Background()); err == nil {
		t.Fatalf("second Serve should fail")
	}
}
