package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DefikitTeam/claude-code-container-sub003/acp"
	"github.com/DefikitTeam/claude-code-container-sub003/completion"
	"github.com/DefikitTeam/claude-code-container-sub003/completion/completiontest"
	"github.com/DefikitTeam/claude-code-container-sub003/credentials"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/dispatch"
	"github.com/DefikitTeam/claude-code-container-sub003/internal/jsonrpc"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions"
	"github.com/DefikitTeam/claude-code-container-sub003/sessions/memorystore"
	"github.com/DefikitTeam/claude-code-container-sub003/workspace"
)

func mustReq(t *testing.T, method acp.Method, params any) *jsonrpc.Request {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(method), params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func newTestEngine(t *testing.T, backend completion.Engine, opts ...Option) (*Engine, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithWorkspaceDescriber(workspace.NewStatic(workspace.Description{RootPath: "/repo", Branch: "main"})),
	}
	e := New(backend, NewEmitter(sender), append(base, opts...)...)
	t.Cleanup(func() { _ = e.Close() })
	return e, sender
}

func initEngine(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.handleInitialize(context.Background(), mustReq(t, acp.InitializeMethod, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersion,
	}))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func newSession(t *testing.T, e *Engine) string {
	t.Helper()
	res, err := e.handleNewSession(context.Background(), mustReq(t, acp.SessionNewMethod, acp.NewSessionRequest{Cwd: "/repo"}))
	if err != nil {
		t.Fatalf("session/new: %v", err)
	}
	return res.(*acp.NewSessionResponse).SessionID
}

func TestInitializeAdvertisesAgent(t *testing.T) {
	e, _ := newTestEngine(t, completiontest.New(nil))

	res, err := e.handleInitialize(context.Background(), mustReq(t, acp.InitializeMethod, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersion,
		ClientInfo:      &acp.ImplementationInfo{Name: "editor", Version: "2.4.0"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	init := res.(*acp.InitializeResponse)
	if init.ProtocolVersion != acp.ProtocolVersion {
		t.Fatalf("protocol version %d", init.ProtocolVersion)
	}
	if !init.AgentCapabilities.LoadSession {
		t.Fatal("loadSession capability not advertised")
	}
	if len(init.AuthMethods) == 0 {
		t.Fatal("no auth methods advertised")
	}
}

func TestSessionMethodsGatedOnInitialize(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil))
	mux := dispatch.NewMux(slog.New(slog.DiscardHandler))
	e.RegisterMethods(mux)

	methods := []struct {
		method acp.Method
		params any
	}{
		{acp.AuthenticateMethod, acp.AuthenticateRequest{MethodID: "api-key"}},
		{acp.SessionNewMethod, acp.NewSessionRequest{Cwd: "/repo"}},
		{acp.SessionLoadMethod, acp.LoadSessionRequest{SessionID: "s"}},
		{acp.SessionPromptMethod, acp.PromptRequest{SessionID: "s", Prompt: []acp.ContentBlock{acp.NewTextBlock("hi")}}},
		{acp.CancelMethod, acp.CancelRequest{SessionID: "s"}},
	}
	for _, m := range methods {
		resp := mux.Dispatch(ctx, mustReq(t, m.method, m.params))
		if resp == nil || resp.Error == nil {
			t.Fatalf("%s before initialize must fail", m.method)
		}
		if resp.Error.Code != jsonrpc.ErrorCodeNotInitialized {
			t.Fatalf("%s: expected code %d, got %d", m.method, jsonrpc.ErrorCodeNotInitialized, resp.Error.Code)
		}
	}
}

func TestNewSessionDefaultsModeAndDescribesWorkspace(t *testing.T) {
	e, _ := newTestEngine(t, completiontest.New(nil))
	initEngine(t, e)

	res, err := e.handleNewSession(context.Background(), mustReq(t, acp.SessionNewMethod, acp.NewSessionRequest{Cwd: "/repo/sub"}))
	if err != nil {
		t.Fatal(err)
	}
	created := res.(*acp.NewSessionResponse)
	if created.SessionID == "" {
		t.Fatal("no session id allocated")
	}
	if created.Workspace == nil || created.Workspace.RootPath != "/repo" || created.Workspace.Branch != "main" {
		t.Fatalf("workspace not described: %+v", created.Workspace)
	}

	sess, ok := e.registry.Get(created.SessionID)
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.Mode != acp.SessionModeDevelopment {
		t.Fatalf("expected default mode development, got %s", sess.Mode)
	}
	if sess.State != sessions.StateActive {
		t.Fatalf("expected active state, got %s", sess.State)
	}
	if sess.WorkspaceRef != "/repo" {
		t.Fatalf("workspace ref not pinned to root: %s", sess.WorkspaceRef)
	}
}

func TestNewSessionRejectsUnknownMode(t *testing.T) {
	e, _ := newTestEngine(t, completiontest.New(nil))
	initEngine(t, e)

	_, err := e.handleNewSession(context.Background(), mustReq(t, acp.SessionNewMethod, acp.NewSessionRequest{
		Cwd:  "/repo",
		Mode: "turbo",
	}))
	var invalid *acp.InvalidParamsError
	if !errors.As(err, &invalid) || invalid.Field != "mode" {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}

func TestNewSessionSurvivesDescribeFailure(t *testing.T) {
	e, _ := newTestEngine(t, completiontest.New(nil), WithWorkspaceDescriber(failingDescriber{}))
	initEngine(t, e)

	res, err := e.handleNewSession(context.Background(), mustReq(t, acp.SessionNewMethod, acp.NewSessionRequest{Cwd: "/gone"}))
	if err != nil {
		t.Fatalf("describe failure must not block creation: %v", err)
	}
	created := res.(*acp.NewSessionResponse)
	if created.Workspace != nil {
		t.Fatalf("expected null workspace, got %+v", created.Workspace)
	}
	if created.SessionID == "" {
		t.Fatal("no session id allocated")
	}
}

type failingDescriber struct{}

func (failingDescriber) Describe(ctx context.Context, ref string) (*workspace.Description, error) {
	return nil, errors.New("describe blew up")
}

func TestPromptRunsTurnAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	backend := completiontest.New(completiontest.Echo("hello from the model"))
	e, sender := newTestEngine(t, backend)
	initEngine(t, e)
	sessionID := newSession(t, e)

	res, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("write me a test")},
	}))
	if err != nil {
		t.Fatal(err)
	}
	reply := res.(*acp.PromptResponse)
	if reply.StopReason != acp.StopReasonEndTurn {
		t.Fatalf("stop reason %s", reply.StopReason)
	}
	if reply.Usage.InputTokens != 3 || reply.Usage.OutputTokens != 7 {
		t.Fatalf("usage %+v", reply.Usage)
	}

	notes := sender.notes(t)
	if len(notes) != 1 {
		t.Fatalf("expected one streamed chunk, got %d", len(notes))
	}
	if notes[0].Update.Kind != acp.UpdateKindAgentMessageChunk || notes[0].Update.Content.Text != "hello from the model" {
		t.Fatalf("unexpected chunk %+v", notes[0].Update)
	}

	sess, _ := e.registry.Get(sessionID)
	if len(sess.MessageHistory) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(sess.MessageHistory))
	}
	if sess.MessageHistory[0].Role != acp.RoleUser || sess.MessageHistory[1].Role != acp.RoleAssistant {
		t.Fatalf("turn roles %s/%s", sess.MessageHistory[0].Role, sess.MessageHistory[1].Role)
	}
	if got := sess.MessageHistory[1].Content[0].Text; got != "hello from the model" {
		t.Fatalf("assistant turn text %q", got)
	}

	// The second prompt sees the first exchange as history, without its own
	// prompt included.
	if _, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("and another")},
	})); err != nil {
		t.Fatal(err)
	}
	last, ok := backend.LastCall()
	if !ok {
		t.Fatal("backend never called")
	}
	if len(last.History) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(last.History))
	}
	if last.History[1].Role != acp.RoleAssistant {
		t.Fatalf("history tail role %s", last.History[1].Role)
	}
}

func TestPromptMergesAgentContext(t *testing.T) {
	ctx := context.Background()
	backend := completiontest.New(nil)
	e, _ := newTestEngine(t, backend)
	initEngine(t, e)
	sessionID := newSession(t, e)

	prompts := []map[string]any{
		{
			"model":      "smart",
			"automation": map[string]any{"autoCommit": true, "review": map[string]any{"approvers": 2.0}},
		},
		{
			"automation": map[string]any{"review": map[string]any{"approvers": 1.0}},
		},
	}
	for _, agentCtx := range prompts {
		if _, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
			SessionID:    sessionID,
			Prompt:       []acp.ContentBlock{acp.NewTextBlock("go")},
			AgentContext: agentCtx,
		})); err != nil {
			t.Fatal(err)
		}
	}

	last, _ := backend.LastCall()
	if last.Context["model"] != "smart" {
		t.Fatalf("scalar lost on merge: %v", last.Context)
	}
	automation := last.Context["automation"].(map[string]any)
	if automation["autoCommit"] != true {
		t.Fatalf("automation sibling lost: %v", automation)
	}
	review := automation["review"].(map[string]any)
	if review["approvers"] != 1.0 {
		t.Fatalf("automation leaf not updated: %v", review)
	}
}

func TestPromptValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil))
	initEngine(t, e)
	sessionID := newSession(t, e)

	_, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{SessionID: sessionID}))
	var invalid *acp.InvalidParamsError
	if !errors.As(err, &invalid) || invalid.Field != "prompt" {
		t.Fatalf("expected empty-prompt rejection, got %v", err)
	}

	_, err = e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: "no-such-session",
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("hi")},
	}))
	var notFound *acp.SessionNotFoundError
	if !errors.As(err, &notFound) || notFound.SessionID != "no-such-session" {
		t.Fatalf("expected session-not-found, got %v", err)
	}
}

func TestPromptBusySessionRefusedThenCancelled(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	var once sync.Once
	blockFirst := completiontest.Blocking(started)
	backend := completiontest.New(func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			return blockFirst(ctx, req, events, tok)
		}
		return &completion.Result{StopReason: acp.StopReasonEndTurn}, nil
	})
	e, _ := newTestEngine(t, backend)
	initEngine(t, e)
	sessionID := newSession(t, e)

	type promptOutcome struct {
		res any
		err error
	}
	first := make(chan promptOutcome, 1)
	firstReq := mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("long running work")},
	})
	go func() {
		res, err := e.handlePrompt(ctx, firstReq)
		first <- promptOutcome{res, err}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first prompt never reached the backend")
	}

	_, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("impatient second prompt")},
	}))
	var busy *acp.OperationInProgressError
	if !errors.As(err, &busy) {
		t.Fatalf("expected operation-in-progress, got %v", err)
	}
	if busy.SessionID != sessionID || busy.BusyOperations != 1 {
		t.Fatalf("busy details %+v", busy)
	}

	res, err := e.handleCancel(ctx, mustReq(t, acp.CancelMethod, acp.CancelRequest{SessionID: sessionID}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.(*acp.CancelResponse).Cancelled {
		t.Fatal("cancel reported nothing cancelled")
	}

	select {
	case outcome := <-first:
		if outcome.err != nil {
			t.Fatalf("cancelled prompt must resolve, got error %v", outcome.err)
		}
		if sr := outcome.res.(*acp.PromptResponse).StopReason; sr != acp.StopReasonCancelled {
			t.Fatalf("stop reason %s", sr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first prompt never resolved after cancel")
	}

	sess, _ := e.registry.Get(sessionID)
	if sess.State != sessions.StatePaused {
		t.Fatalf("expected paused state after cancel, got %s", sess.State)
	}

	// The next prompt is accepted and flips the session back to active.
	if _, err := e.handlePrompt(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("try again")},
	})); err != nil {
		t.Fatalf("post-cancel prompt refused: %v", err)
	}
	sess, _ = e.registry.Get(sessionID)
	if sess.State != sessions.StateActive {
		t.Fatalf("expected active state, got %s", sess.State)
	}
}

func TestCancelIdleSessionReportsFalse(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil))
	initEngine(t, e)
	sessionID := newSession(t, e)

	res, err := e.handleCancel(ctx, mustReq(t, acp.CancelMethod, acp.CancelRequest{SessionID: sessionID}))
	if err != nil {
		t.Fatal(err)
	}
	if res.(*acp.CancelResponse).Cancelled {
		t.Fatal("idle cancel reported work cancelled")
	}

	// Unknown sessions are equally a no-op, not an error.
	res, err = e.handleCancel(ctx, mustReq(t, acp.CancelMethod, acp.CancelRequest{SessionID: "ghost"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.(*acp.CancelResponse).Cancelled {
		t.Fatal("unknown-session cancel reported work cancelled")
	}
}

func TestPromptWithoutCredentialsMapsToAuthRequired(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil), WithCredentials(credentials.NewStatic(credentials.Credentials{})))
	initEngine(t, e)
	sessionID := newSession(t, e)

	mux := dispatch.NewMux(slog.New(slog.DiscardHandler))
	e.RegisterMethods(mux)
	resp := mux.Dispatch(ctx, mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
		SessionID: sessionID,
		Prompt:    []acp.ContentBlock{acp.NewTextBlock("hi")},
	}))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeAuthRequired {
		t.Fatalf("expected auth-required wire error, got %+v", resp.Error)
	}
	data, ok := resp.Error.Data.(map[string]any)
	if !ok || data["authMethods"] == nil {
		t.Fatalf("auth methods missing from error data: %+v", resp.Error.Data)
	}
}

func TestAuthenticateChecksMethodAndCredentials(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil), WithCredentials(credentials.NewStatic(credentials.Credentials{APIKey: "sk-test"})))
	initEngine(t, e)

	if _, err := e.handleAuthenticate(ctx, mustReq(t, acp.AuthenticateMethod, acp.AuthenticateRequest{MethodID: "api-key"})); err != nil {
		t.Fatal(err)
	}

	_, err := e.handleAuthenticate(ctx, mustReq(t, acp.AuthenticateMethod, acp.AuthenticateRequest{MethodID: "oauth"}))
	var invalid *acp.InvalidParamsError
	if !errors.As(err, &invalid) || invalid.Field != "methodId" {
		t.Fatalf("expected unknown-method rejection, got %v", err)
	}

	bare, _ := newTestEngine(t, completiontest.New(nil), WithCredentials(credentials.NewStatic(credentials.Credentials{})))
	initEngine(t, bare)
	_, err = bare.handleAuthenticate(ctx, mustReq(t, acp.AuthenticateMethod, acp.AuthenticateRequest{MethodID: "api-key"}))
	var authErr *acp.AuthRequiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth-required, got %v", err)
	}
}

func TestLoadSessionUnknownID(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, completiontest.New(nil))
	initEngine(t, e)

	mux := dispatch.NewMux(slog.New(slog.DiscardHandler))
	e.RegisterMethods(mux)
	resp := mux.Dispatch(ctx, mustReq(t, acp.SessionLoadMethod, acp.LoadSessionRequest{SessionID: "missing"}))
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeSessionNotFound {
		t.Fatalf("expected session-not-found wire error, got %+v", resp.Error)
	}
	data, ok := resp.Error.Data.(map[string]any)
	if !ok || data["sessionId"] != "missing" {
		t.Fatalf("session id missing from error data: %+v", resp.Error.Data)
	}
}

func TestLoadSessionRehydratesAndReplaysBoundedHistory(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()
	t.Cleanup(func() { _ = store.Close() })

	turns := []acp.Turn{
		{Role: acp.RoleUser, Content: []acp.ContentBlock{acp.NewTextBlock("first question")}},
		{Role: acp.RoleAssistant, Content: []acp.ContentBlock{acp.NewTextBlock("first answer")}},
		{Role: acp.RoleUser, Content: []acp.ContentBlock{acp.NewTextBlock("second question")}},
		{Role: acp.RoleAssistant, Content: []acp.ContentBlock{acp.NewTextBlock("second answer")}},
	}
	if err := store.Save(ctx, &sessions.Session{
		SessionID:      "persisted",
		WorkspaceRef:   "/repo",
		Mode:           acp.SessionModeDevelopment,
		State:          sessions.StateActive,
		MessageHistory: turns,
	}); err != nil {
		t.Fatal(err)
	}

	e, sender := newTestEngine(t, completiontest.New(nil), WithStore(store), WithReplayLimit(2))
	initEngine(t, e)

	if _, err := e.handleLoadSession(ctx, mustReq(t, acp.SessionLoadMethod, acp.LoadSessionRequest{SessionID: "persisted"})); err != nil {
		t.Fatal(err)
	}

	notes := sender.notes(t)
	if len(notes) != 2 {
		t.Fatalf("expected 2 replayed turns, got %d", len(notes))
	}
	if notes[0].Update.Kind != acp.UpdateKindUserMessageChunk || notes[0].Update.Content.Text != "second question" {
		t.Fatalf("first replayed update %+v", notes[0].Update)
	}
	if notes[1].Update.Kind != acp.UpdateKindAgentMessageChunk || notes[1].Update.Content.Text != "second answer" {
		t.Fatalf("second replayed update %+v", notes[1].Update)
	}

	if _, ok := e.registry.Get("persisted"); !ok {
		t.Fatal("session not rehydrated into the registry")
	}
}

func TestPromptsOnDifferentSessionsRunConcurrently(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var inFlight sync.WaitGroup
	inFlight.Add(2)
	backend := completiontest.New(func(ctx context.Context, req *completion.Request, events completion.Events, tok *sessions.CancellationToken) (*completion.Result, error) {
		inFlight.Done()
		<-release
		return &completion.Result{StopReason: acp.StopReasonEndTurn}, nil
	})
	e, _ := newTestEngine(t, backend)
	initEngine(t, e)
	a := newSession(t, e)
	b := newSession(t, e)

	results := make(chan error, 2)
	for _, id := range []string{a, b} {
		req := mustReq(t, acp.SessionPromptMethod, acp.PromptRequest{
			SessionID: id,
			Prompt:    []acp.ContentBlock{acp.NewTextBlock("go")},
		})
		go func(req *jsonrpc.Request) {
			_, err := e.handlePrompt(ctx, req)
			results <- err
		}(req)
	}

	done := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prompts on distinct sessions serialized")
	}
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatal(err)
		}
	}
}
