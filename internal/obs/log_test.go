package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestLogLineShape(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	f := Fields{"user": "alice", "err": errors.New("boom")}
	Info("session.auth.ok", f)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if line["level"] != "info" || line["msg"] != "session.auth.ok" {
		t.Errorf("unexpected level/msg: %v", line)
	}
	if line["user"] != "alice" || line["err"] != "boom" {
		t.Errorf("fields not carried: %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Error("missing ts")
	}
	if _, ok := f["level"]; ok {
		t.Error("caller fields were mutated")
	}
}

func TestDebugGate(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	EnableDebug(false)
	Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug line written while disabled: %q", buf.String())
	}
	EnableDebug(true)
	defer EnableDebug(false)
	Debug("shown", nil)
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"debug"`)) {
		t.Errorf("debug line missing: %q", buf.String())
	}
}
