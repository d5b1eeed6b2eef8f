package api

import (
	"net/http"
	"time"

	"github.com/BaSui01/scriptexec/sandbox"
	"github.com/BaSui01/scriptexec/sandbox/bag"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// streamEvent is the frame shape written to the socket as a script
// runs: exactly one of tool_call, tool_result, done, error per frame.
type streamEvent struct {
	Event  string    `json:"event"`
	Tool   string    `json:"tool,omitempty"`
	Result string    `json:"result,omitempty"`
	Kind   string    `json:"kind,omitempty"`
	Error  string    `json:"error,omitempty"`
	Value  bag.Value `json:"result_value,omitempty"`
}

// handleExecuteStream upgrades to a WebSocket, reads one JSON
// ExecuteRequest as the first frame, then relays the in-flight
// tool_call/tool_result events the executor emits while the script runs,
// finishing with a single done/error frame before closing. It does not
// go through the okapi router's JSON binder — the connection lifecycle
// doesn't fit its request/response model — so it is mounted directly on
// the underlying mux via okapi.HandleStd.
//
// Bearer auth can't reuse the okapi group middleware here either
// (same reason); it is checked manually before the upgrade.
func (g *Gateway) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	if !g.checkBearer(r) {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var req ExecuteRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		_ = conn.Close(websocket.StatusUnsupportedData, "expected one JSON execute request")
		return
	}
	if req.Source == "" {
		_ = conn.Close(websocket.StatusUnsupportedData, "source is required")
		return
	}

	if !g.acquire(ctx) {
		_ = wsjson.Write(ctx, conn, streamEvent{Event: "error", Error: "executor is at capacity"})
		_ = conn.Close(websocket.StatusInternalError, "at capacity")
		return
	}
	defer g.release()

	hooks := sandbox.Hooks{
		OnToolCall: func(_, tool string) {
			_ = wsjson.Write(ctx, conn, streamEvent{Event: "tool_call", Tool: tool})
		},
		OnToolResult: func(_, tool, result string) {
			_ = wsjson.Write(ctx, conn, streamEvent{Event: "tool_result", Tool: tool, Result: result})
		},
	}

	start := time.Now()
	result, err := g.executor.Execute(ctx, req.Source, req.Context, sandbox.Options{
		TimeoutMs: req.TimeoutMs,
		Hooks:     hooks,
	})
	if err != nil {
		outcome, kind, _, msg := classify(err)
		if g.metrics != nil {
			g.metrics.RecordExecution(outcome, time.Since(start), 0)
		}
		_ = wsjson.Write(ctx, conn, streamEvent{Event: "error", Kind: kind, Error: msg})
		_ = conn.Close(websocket.StatusNormalClosure, "done")
		return
	}
	if g.metrics != nil {
		g.metrics.RecordExecution("ok", time.Since(start), 0)
	}
	_ = wsjson.Write(ctx, conn, streamEvent{Event: "done", Value: result})
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func (g *Gateway) checkBearer(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	raw := auth[len(prefix):]
	return verifyJWT(raw, g.config.JWTSigningKey) == nil
}
