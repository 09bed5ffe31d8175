package deptree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDependOneHop(t *testing.T) {
	tr := New()
	tr.AddEdge("sshd", Ineed, "net")
	tr.AddEdge("sshd", Iuse, "logger")

	if got := tr.Depend("sshd", Ineed); len(got) != 1 || got[0] != "net" {
		t.Errorf("Depend(sshd, ineed) = %v, want [net]", got)
	}
	if got := tr.Depend("sshd", Iuse); len(got) != 1 || got[0] != "logger" {
		t.Errorf("Depend(sshd, iuse) = %v, want [logger]", got)
	}
}

func TestDependsTraceOrdersDependenciesFirst(t *testing.T) {
	tr := New()
	tr.AddEdge("sshd", Ineed, "net")
	tr.AddEdge("net", Ineed, "localmount")

	got := tr.Depends("sshd", Trace)
	want := []string{"localmount", "net"}
	if len(got) != len(want) {
		t.Fatalf("Depends = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Depends[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBrokenReportsUnknownProvider(t *testing.T) {
	tr := New()
	tr.AddEdge("sshd", Ineed, "net")

	got := tr.Broken("sshd")
	if len(got) != 1 || got[0] != "net" {
		t.Errorf("Broken(sshd) = %v, want [net]", got)
	}

	tr.AddEdge("net", Iprovide, "net")
	got = tr.Broken("sshd")
	if len(got) != 0 {
		t.Errorf("Broken(sshd) after net defined = %v, want []", got)
	}
}

func TestNeedsMeIsReverseOfIneed(t *testing.T) {
	tr := New()
	tr.AddEdge("sshd", Ineed, "net")
	tr.AddEdge("dhcpcd", Ineed, "net")

	got := tr.NeedsMe("net")
	want := []string{"dhcpcd", "sshd"}
	if len(got) != len(want) {
		t.Fatalf("NeedsMe(net) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NeedsMe[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasKeyword(t *testing.T) {
	tr := New()
	tr.SetKeywords("sshd", []string{"notimeout"})

	if !tr.HasKeyword("sshd", "notimeout") {
		t.Error("HasKeyword(sshd, notimeout) = false, want true")
	}
	if tr.HasKeyword("sshd", "timeout") {
		t.Error("HasKeyword(sshd, timeout) = true, want false")
	}
}

func TestLoadParsesCacheFormat(t *testing.T) {
	dir := t.TempDir()
	contents := "sshd\nineed net\niuse logger\nkeywords notimeout\n"
	if err := os.WriteFile(filepath.Join(dir, "sshd"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "net"), []byte("net\niprovide net\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := tr.Depend("sshd", Ineed); len(got) != 1 || got[0] != "net" {
		t.Errorf("Depend(sshd, ineed) = %v, want [net]", got)
	}
	if !tr.HasKeyword("sshd", "notimeout") {
		t.Error("expected notimeout keyword loaded")
	}
	if got := tr.Broken("sshd"); len(got) != 0 {
		t.Errorf("Broken(sshd) = %v, want [] (net is provided)", got)
	}
}

func TestDependentsOrderedDeepestFirst(t *testing.T) {
	tr := New()
	// net <- sshd <- sshd-guard: stopping net must stop sshd-guard before
	// sshd, and sshd before net.
	tr.AddEdge("sshd", Ineed, "net")
	tr.AddEdge("sshd-guard", Ineed, "sshd")

	got := tr.DependentsOrdered("net")
	want := []string{"sshd-guard", "sshd"}
	if len(got) != len(want) {
		t.Fatalf("DependentsOrdered(net) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DependentsOrdered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDependentsOrderedExcludesSelfAndNonDependents(t *testing.T) {
	tr := New()
	tr.AddEdge("sshd", Ineed, "net")

	if got := tr.DependentsOrdered("sshd"); len(got) != 0 {
		t.Errorf("DependentsOrdered(sshd) = %v, want []", got)
	}
}

func TestLoadMissingCacheDirIsEmptyNotError(t *testing.T) {
	tr, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.Depends("sshd", Trace); len(got) != 0 {
		t.Errorf("Depends on empty tree = %v, want []", got)
	}
}
