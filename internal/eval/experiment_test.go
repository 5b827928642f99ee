package eval

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"steerbench/internal/steerable"
)

func TestOpen_FreshWritesConfigImmediately(t *testing.T) {
	cfg := testConfig(t, "fresh")

	exp, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	path := filepath.Join(exp.Dir, "config_fresh.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not persisted at creation: %v", err)
	}
	var persisted Config
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("parse persisted config: %v", err)
	}
	if persisted.SteerableSystemType != cfg.SteerableSystemType {
		t.Errorf("persisted backend type = %q, want %q", persisted.SteerableSystemType, cfg.SteerableSystemType)
	}
}

func TestOpen_ConflictWithoutResume(t *testing.T) {
	cfg := testConfig(t, "conflict")

	if _, err := Open(cfg); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_, err := Open(cfg)
	var conflict *ConfigConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConfigConflictError, got %v", err)
	}
}

func TestOpen_ResumeLoadsPersistedState(t *testing.T) {
	cfg := testConfig(t, "reload")

	exp, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := exp.SetScore("a", "b", 0.75); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	records := map[string]ResponseRecord{
		"o1": {Response: "Y", CorrectResponse: "Y"},
		"o2": {Response: "N", CorrectResponse: "Y"},
	}
	if err := exp.SetResponses("a", "b", records); err != nil {
		t.Fatalf("SetResponses: %v", err)
	}
	state := steerable.State{Type: "mock", PersonaID: "a", Payload: json.RawMessage(`{"k":"v"}`)}
	if err := exp.SetState("a", state); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	cfg.Resume = true
	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open(resume): %v", err)
	}

	if !reopened.HasScore("a", "b") {
		t.Error("resumed experiment lost the score cell")
	}
	if got := reopened.ScoreMatrix()["a"]["b"]; got != 0.75 {
		t.Errorf("score = %v, want 0.75", got)
	}
	rec, ok := reopened.Response("a", "b", "o2")
	if !ok || rec.Response != "N" {
		t.Errorf("response record lost: %+v ok=%v", rec, ok)
	}
	st, ok := reopened.State("a")
	if !ok {
		t.Fatal("state snapshot lost")
	}
	if diff := cmp.Diff(state, st); diff != "" {
		t.Errorf("state snapshot mismatch:\n%s", diff)
	}
}

func TestLoadScores_MissingFileIsEmpty(t *testing.T) {
	scores, err := LoadScores(t.TempDir(), "none")
	if err != nil {
		t.Fatalf("LoadScores: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("expected empty matrix, got %v", scores)
	}
}

func TestReadProgress(t *testing.T) {
	cfg := testConfig(t, "progress")
	exp, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = exp.SetScore("a", "a", 1)
	_ = exp.SetScore("a", "b", 0.5)
	_ = exp.SetState("a", steerable.State{Type: "mock", PersonaID: "a"})

	p, err := ReadProgress(exp.Dir, cfg.ExperimentName)
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	if p.CompletedPairs != 2 || p.CalibratedPersonas != 1 {
		t.Errorf("progress = %+v, want 2 pairs / 1 snapshot", p)
	}
}
