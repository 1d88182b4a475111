package proxy

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
	"github.com/AlexanderBrevig/literate-lsp/internal/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store := document.NewStore(nil)
	resolver := config.NewResolver(config.Table{})
	children := child.NewManager(resolver, testLogger())
	r := router.New(store, children, resolver, testLogger())
	return NewSession(testLogger(), r, children, resolver)
}

func TestNewSessionWiresRouterCallbacks(t *testing.T) {
	s := newTestSession(t)
	require.NotNil(t, s.Handler())
	require.NotNil(t, s.Handler().Initialize)
}

func TestRespondEditorDeliversToWaitingCall(t *testing.T) {
	s := newTestSession(t)

	ch := make(chan replyResult, 1)
	s.repliesMu.Lock()
	s.replies["1"] = ch
	s.repliesMu.Unlock()

	err := s.respondEditor(json.RawMessage("1"), json.RawMessage(`{"ok":true}`), nil)
	require.NoError(t, err)

	reply := <-ch
	assert.JSONEq(t, `{"ok":true}`, string(reply.result))
	assert.Nil(t, reply.errObj)
}

func TestRespondEditorWithUnknownIDIsNoop(t *testing.T) {
	s := newTestSession(t)
	err := s.respondEditor(json.RawMessage("does-not-exist"), json.RawMessage("null"), nil)
	assert.NoError(t, err)
}

func TestRespondEditorDeliversErrorObject(t *testing.T) {
	s := newTestSession(t)
	ch := make(chan replyResult, 1)
	s.repliesMu.Lock()
	s.replies["2"] = ch
	s.repliesMu.Unlock()

	errObj := &rpc.Error{Code: rpc.CodeInternalError, Message: "boom"}
	require.NoError(t, s.respondEditor(json.RawMessage("2"), nil, errObj))

	reply := <-ch
	assert.Same(t, errObj, reply.errObj)
}

func TestNotifyEditorFailsBeforeInitialized(t *testing.T) {
	s := newTestSession(t)
	err := s.notifyEditor("textDocument/publishDiagnostics", nil)
	assert.Error(t, err)
}

func TestNotifyEditorUsesCapturedNotifyFn(t *testing.T) {
	s := newTestSession(t)

	var gotMethod string
	var gotParams any
	s.notifyMu.Lock()
	s.notifyFn = func(method string, params any) {
		gotMethod = method
		gotParams = params
	}
	s.notifyMu.Unlock()

	require.NoError(t, s.notifyEditor("textDocument/publishDiagnostics", "params"))
	assert.Equal(t, "textDocument/publishDiagnostics", gotMethod)
	assert.Equal(t, "params", gotParams)
}

func TestUnmarshalResultTreatsNullAsNoResult(t *testing.T) {
	var dst map[string]any
	ok, err := unmarshalResult(json.RawMessage("null"), &dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmarshalResultTreatsEmptyAsNoResult(t *testing.T) {
	var dst map[string]any
	ok, err := unmarshalResult(nil, &dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmarshalResultDecodesValue(t *testing.T) {
	var dst struct {
		Foo string `json:"foo"`
	}
	ok, err := unmarshalResult(json.RawMessage(`{"foo":"bar"}`), &dst)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", dst.Foo)
}

func TestCloseIsIdempotentBeforeRunStdio(t *testing.T) {
	s := newTestSession(t)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
