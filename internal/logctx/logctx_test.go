package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithSessionData(context.Background(), &SessionData{UserID: "user1", ProtocolVersion: "2025-06-18"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "createTodo"})

	logger.InfoContext(ctx, "handled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["component"] != "test" {
		t.Errorf("expected attrs from With to survive, got %v", rec["component"])
	}
	sess, _ := rec["sess"].(map[string]any)
	if sess["user_id"] != "user1" {
		t.Errorf("sess.user_id = %v", sess["user_id"])
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "tools/call" || rpc["id"] != "7" {
		t.Errorf("rpc group = %v", rpc)
	}
	tool, _ := rec["tool"].(map[string]any)
	if tool["name"] != "createTodo" {
		t.Errorf("tool group = %v", tool)
	}
	if _, ok := rec["resource"]; ok {
		t.Errorf("unexpected resource group")
	}
}
