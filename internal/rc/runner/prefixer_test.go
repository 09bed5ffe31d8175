package runner

import (
	"bytes"
	"testing"
)

func TestPrefixerPrefixesEachLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrefixer(&buf, "sshd | ")

	if _, err := p.Write([]byte("starting\nstarted\n")); err != nil {
		t.Fatal(err)
	}

	want := "sshd | starting\nsshd | started\n"
	if buf.String() != want {
		t.Errorf("Write = %q, want %q", buf.String(), want)
	}
}

func TestPrefixerDoesNotReprefixMidLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrefixer(&buf, "sshd | ")

	if _, err := p.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte(" line\n")); err != nil {
		t.Fatal(err)
	}

	want := "sshd | partial line\n"
	if buf.String() != want {
		t.Errorf("Write = %q, want %q", buf.String(), want)
	}
}

func TestPrefixerEmptyPrefixPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrefixer(&buf, "")

	if _, err := p.Write([]byte("raw\noutput\n")); err != nil {
		t.Fatal(err)
	}

	want := "raw\noutput\n"
	if buf.String() != want {
		t.Errorf("Write = %q, want %q", buf.String(), want)
	}
}

func TestPrefixerHandlesMultipleLinesInOneWrite(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrefixer(&buf, ">> ")

	if _, err := p.Write([]byte("a\nb\nc")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("ontinued\n")); err != nil {
		t.Fatal(err)
	}

	want := ">> a\n>> b\n>> continued\n"
	if buf.String() != want {
		t.Errorf("Write = %q, want %q", buf.String(), want)
	}
}
