package web

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"Connections": 3, "Approved": 2, "Waiting": 1, "Ties": 7}
	if err := Render(&buf, "dashboard", data); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"<title>husky dashboard</title>", "<td>3</td>", "<td>7</td>", "rendered "} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output", want)
		}
	}
	if _, ok := data["Now"]; ok {
		t.Error("caller map mutated")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if err := Render(&bytes.Buffer{}, "nope", nil); err == nil {
		t.Fatal("expected error")
	}
}
