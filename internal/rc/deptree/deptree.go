// Package deptree implements the Dependency Oracle: a typed relation
// graph loaded from the on-disk dependency cache and queried by the
// Lifecycle Engine to order starts/stops and detect broken dependencies.
package deptree

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Relation names one edge type in the dependency graph. Reverse
// relations (needsme, usesme, beforeme) are derived, not stored.
type Relation string

const (
	Ineed    Relation = "ineed"
	Iuse     Relation = "iuse"
	Iafter   Relation = "iafter"
	Ibefore  Relation = "ibefore"
	Iprovide Relation = "iprovide"

	// Broken is a pseudo-relation: svc needs a provider that is not
	// present in the loaded dependency tree.
	Broken Relation = "broken"
)

var forwardRelations = []Relation{Ineed, Iuse, Iafter, Ibefore, Iprovide}

// Options controls how Depends/Depend traverse the graph, mirroring the
// bitmask OpenRC passes into rc_deptree_depend/rc_deptree_depends.
type Options uint32

const (
	// Trace follows the relation transitively instead of one hop.
	Trace Options = 1 << iota
	// Strict is accepted but does not change traversal: iuse edges are
	// followed whether or not it is set.
	Strict
	// Start restricts traversal to relations relevant when starting.
	Start
	// Stop restricts traversal to relations relevant when stopping.
	Stop
)

// Node is one service's outgoing edges, keyed by relation.
type Node struct {
	Name  string
	Edges map[Relation][]string
}

// Tree is the full, loaded dependency graph plus the keyword table the
// builder recorded per service (e.g. "notimeout", "timeout 30").
type Tree struct {
	nodes    map[string]*Node
	keywords map[string][]string
}

// New returns an empty Tree, useful for tests that build a graph by hand.
func New() *Tree {
	return &Tree{nodes: map[string]*Node{}, keywords: map[string][]string{}}
}

func (t *Tree) node(name string) *Node {
	n, ok := t.nodes[name]
	if !ok {
		n = &Node{Name: name, Edges: map[Relation][]string{}}
		t.nodes[name] = n
	}
	return n
}

// AddEdge records svc --relation--> target. Exported so tests and Load
// share one construction path.
func (t *Tree) AddEdge(svc string, rel Relation, target string) {
	n := t.node(svc)
	n.Edges[rel] = append(n.Edges[rel], target)
}

// SetKeywords records svc's keyword line verbatim (split on whitespace).
func (t *Tree) SetKeywords(svc string, words []string) {
	t.keywords[svc] = words
}

// Load parses the dependency cache the out-of-scope rc-depend builder
// writes under cacheDir. The format is one file per service: the first
// line is the service name again (sanity echo), followed by one line per
// relation as "relation target1 target2 ...", and an optional trailing
// "keywords w1 w2 ..." line.
func Load(cacheDir string) (*Tree, error) {
	t := New()

	entries, err := os.ReadDir(cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		svc := e.Name()
		f, err := os.Open(filepath.Join(cacheDir, svc))
		if err != nil {
			return nil, err
		}
		if err := t.loadFile(svc, f); err != nil {
			f.Close()
			return nil, fmt.Errorf("deptree: load %s: %w", svc, err)
		}
		f.Close()
	}

	return t, nil
}

func (t *Tree) loadFile(svc string, r *os.File) error {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if first {
			first = false
			// Sanity echo line; ignore its content beyond presence.
			continue
		}
		if len(fields) < 1 {
			continue
		}
		switch Relation(fields[0]) {
		case Ineed, Iuse, Iafter, Ibefore, Iprovide:
			rel := Relation(fields[0])
			for _, target := range fields[1:] {
				t.AddEdge(svc, rel, target)
			}
		default:
			if fields[0] == "keywords" {
				t.SetKeywords(svc, fields[1:])
			}
		}
	}
	return sc.Err()
}

// Keywords returns the keyword list the builder recorded for svc.
func (t *Tree) Keywords(svc string) []string {
	return t.keywords[svc]
}

// HasKeyword reports whether svc's keyword line contains word exactly.
func (t *Tree) HasKeyword(svc, word string) bool {
	for _, w := range t.keywords[svc] {
		if w == word {
			return true
		}
	}
	return false
}

// relevant reports whether rel should be followed for the given Options.
func relevant(rel Relation, opts Options) bool {
	switch rel {
	case Ineed:
		return true
	case Iuse:
		return opts&Strict != 0 || true // iuse is always a soft ordering hint
	case Iafter:
		return opts&Start != 0
	case Ibefore:
		return opts&Stop != 0
	case Iprovide:
		return false
	default:
		return false
	}
}

// Depend returns svc's immediate (one-hop) targets for rel.
func (t *Tree) Depend(svc string, rel Relation) []string {
	n, ok := t.nodes[svc]
	if !ok {
		return nil
	}
	out := append([]string(nil), n.Edges[rel]...)
	sort.Strings(out)
	return out
}

// Depends returns every service svc transitively depends on under opts,
// in the order a depth-first visit discovers them (dependencies before
// dependents — the order the Lifecycle Engine starts things in). svc
// itself is not part of the result.
func (t *Tree) Depends(svc string, opts Options) []string {
	visited := map[string]bool{}
	var order []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		n, ok := t.nodes[name]
		if !ok {
			// A target with no outgoing edges of its own is still a
			// dependency: list it as a leaf.
			if name != svc {
				order = append(order, name)
			}
			return
		}
		for _, rel := range forwardRelations {
			if !relevant(rel, opts) {
				continue
			}
			targets := append([]string(nil), n.Edges[rel]...)
			sort.Strings(targets)
			for _, target := range targets {
				if opts&Trace != 0 {
					visit(target)
				} else if !visited[target] {
					visited[target] = true
					order = append(order, target)
				}
			}
		}
		if name != svc {
			order = append(order, name)
		}
	}
	visit(svc)

	return order
}

// Broken returns every provider svc needs that is not known to the tree
// at all — the deptree's encoding of the original's "broken"
// pseudo-relation. A missing iuse target is optional and never broken.
func (t *Tree) Broken(svc string) []string {
	n, ok := t.nodes[svc]
	if !ok {
		return nil
	}
	var broken []string
	for _, target := range n.Edges[Ineed] {
		if _, ok := t.nodes[target]; !ok {
			broken = append(broken, target)
		}
	}
	sort.Strings(broken)
	return broken
}

// NeedsMe returns every service that lists svc under ineed — the
// reverse of Depend(svc, Ineed), computed on demand since the cache only
// stores the forward direction.
func (t *Tree) NeedsMe(svc string) []string {
	return t.reverse(svc, Ineed)
}

// UsesMe is NeedsMe's iuse counterpart.
func (t *Tree) UsesMe(svc string) []string {
	return t.reverse(svc, Iuse)
}

// BeforeMe returns every service that lists svc under ibefore.
func (t *Tree) BeforeMe(svc string) []string {
	return t.reverse(svc, Ibefore)
}

// DependentsOrdered returns every service transitively needing svc (the
// closure of NeedsMe), ordered so that every service comes after all the
// services that need it: stopping svc's dependents in this order never
// stops a service before something still needing it.
func (t *Tree) DependentsOrdered(svc string) []string {
	visited := map[string]bool{}
	var order []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dependent := range t.NeedsMe(name) {
			visit(dependent)
		}
		if name != svc {
			order = append(order, name)
		}
	}
	visit(svc)

	return order
}

func (t *Tree) reverse(target string, rel Relation) []string {
	var out []string
	for name, n := range t.nodes {
		for _, e := range n.Edges[rel] {
			if e == target {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
