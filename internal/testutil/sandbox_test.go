package testutil

import (
	"bytes"
	"encoding/pem"
	"os"
	"testing"
)

func TestSandboxReadWrite(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	data := []byte("hello world")
	if err := sb.WriteFile("file.txt", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := sb.ReadFile("file.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch: got %q want %q", got, data)
	}
}

func TestSandboxCleanup(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	path := sb.Path("temp")
	if err := sb.WriteFile("temp", []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := sb.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected sandbox to be removed")
	}
}

func TestSandboxWritePEMRoundTrips(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	der := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	path, err := sb.WritePEM("cert.pem", "CERTIFICATE", der)
	if err != nil {
		t.Fatalf("WritePEM failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	block, rest := pem.Decode(raw)
	if block == nil || len(rest) != 0 {
		t.Fatal("expected exactly one PEM block")
	}
	if block.Type != "CERTIFICATE" || !bytes.Equal(block.Bytes, der) {
		t.Fatalf("PEM round-trip mismatch: type=%q bytes=%x", block.Type, block.Bytes)
	}
}

func TestSandboxPathJoinsRoot(t *testing.T) {
	sb, err := NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if got, want := sb.Path("schema.yaml"), sb.Root+"/schema.yaml"; got != want {
		t.Fatalf("Path: got %q want %q", got, want)
	}
}
