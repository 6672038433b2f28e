package service

import "os"

// guard removes a directory on release unless it was disarmed first.
type guard struct {
	path  string
	armed bool
}

func newGuard(path string) *guard {
	return &guard{path: path, armed: true}
}

func (g *guard) disarm() {
	g.armed = false
}

func (g *guard) release() {
	if g.armed {
		_ = os.RemoveAll(g.path)
		g.armed = false
	}
}
