package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/noah-isme/tm-inbox-console/internal/service"
)

// colorNotifier prints notices as one colored line each.
type colorNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func newColorNotifier(out io.Writer) *colorNotifier {
	return &colorNotifier{out: out}
}

func (n *colorNotifier) Notify(kind service.NoticeKind, title, detail string) {
	var c *color.Color
	switch kind {
	case service.NoticeSuccess:
		c = color.New(color.FgHiGreen, color.Bold)
	case service.NoticeError:
		c = color.New(color.FgHiRed, color.Bold)
	default:
		c = color.New(color.FgHiBlue, color.Bold)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	c.Fprint(n.out, title)
	if detail != "" {
		fmt.Fprint(n.out, " ", detail)
	}
	fmt.Fprintln(n.out)
}
