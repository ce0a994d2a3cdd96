package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kappal-app/agentstack/pkg/state"
)

func testServices() []state.ServiceInfo {
	return []state.ServiceInfo{
		{
			Name:      "frontend",
			Container: "agent-frontend",
			Image:     "agent-frontend:latest",
			Status:    "running",
			Ports:     []state.PortInfo{{Host: 3000, Container: 3000, Protocol: "tcp"}},
		},
		{Name: "backend", Image: "agent-backend:latest", Status: "missing", Ports: []state.PortInfo{}},
	}
}

func TestWriteServicesTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeServices(&buf, "table", testServices()); err != nil {
		t.Fatalf("writeServices: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"NAME", "STATUS", "agent-frontend", "3000->3000/tcp", "missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteServicesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeServices(&buf, "json", testServices()); err != nil {
		t.Fatalf("writeServices: %v", err)
	}
	var got []state.ServiceInfo
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[1].Status != "missing" {
		t.Errorf("unexpected services: %+v", got)
	}
}

func TestWriteServicesUnknownFormat(t *testing.T) {
	if err := writeServices(&bytes.Buffer{}, "xml", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFormatPorts(t *testing.T) {
	got := formatPorts([]state.PortInfo{
		{Host: 3000, Container: 3000, Protocol: "tcp"},
		{Host: 9000, Container: 8000, Protocol: "tcp"},
	})
	if want := "3000->3000/tcp, 9000->8000/tcp"; got != want {
		t.Errorf("formatPorts = %q, want %q", got, want)
	}
}
