package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	flowdto "flowsync/internal/modules/flow/dto"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("flowsync %v: %v", args, err)
	}
	return out.Bytes()
}

func TestOfflineEditsSurviveBetweenCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "flowsync.yaml")
	cfg := "log_level: none\nstore:\n  backend: file\n  path: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	base := []string{"--config", cfgPath, "--relay", ""}

	run(t, append(base, "room", "add-node", "demo", "--id", "a", "--label", "Start")...)
	run(t, append(base, "room", "add-node", "demo", "--id", "b", "--x", "100")...)
	run(t, append(base, "room", "connect", "demo", "a", "b")...)

	var removed flowdto.RemoveNodeOutput
	if err := json.Unmarshal(run(t, append(base, "room", "remove-node", "demo", "b")...), &removed); err != nil {
		t.Fatalf("decode remove output: %v", err)
	}
	if removed.NodeID != "b" || len(removed.EdgesRemoved) != 1 {
		t.Fatalf("unexpected remove output: %+v", removed)
	}

	var graph flowdto.GraphOutput
	if err := json.Unmarshal(run(t, append(base, "room", "dump", "demo")...), &graph); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if len(graph.Nodes) != 1 || graph.Nodes[0].ID != "a" || graph.Nodes[0].Label != "Start" {
		t.Fatalf("unexpected nodes: %+v", graph.Nodes)
	}
	if len(graph.Edges) != 0 {
		t.Fatalf("edge to removed node survived: %+v", graph.Edges)
	}

	var stored struct {
		Live  bool              `json:"live"`
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(run(t, append(base, "snapshot", "show", "demo")...), &stored); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if stored.Live || len(stored.Nodes) != 1 {
		t.Fatalf("unexpected snapshot: %+v", stored)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "relay", "token", "demo"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error without a jwt secret")
	}
}
