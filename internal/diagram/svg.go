package diagram

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// Placeholder is shown when there is no graph to draw.
const Placeholder = "Start describing your architecture to see it visualized here."

// Style is how one node type is drawn.
type Style struct {
	Fill string
}

// DefaultStyle is used for node types without an entry in Styles.
var DefaultStyle = Style{Fill: "#333333"}

// Styles maps node types to their fill colour.
var Styles = map[domain.NodeType]Style{
	domain.NodeClient:       {Fill: "#28527A"},
	domain.NodeLoadBalancer: {Fill: "#00917C"},
	domain.NodeWebServer:    {Fill: "#C15050"},
	domain.NodeAPI:          {Fill: "#28527A"},
	domain.NodeCache:        {Fill: "#fbbf24"},
	domain.NodeDatabase:     {Fill: "#C15050"},
	domain.NodeMessageQueue: {Fill: "#00917C"},
	domain.NodeCDN:          {Fill: "#28527A"},
	domain.NodeStorage:      {Fill: "#94a3b8"},
}

// StyleFor returns the style for t, falling back to DefaultStyle.
func StyleFor(t domain.NodeType) Style {
	if s, ok := Styles[t]; ok {
		return s
	}
	return DefaultStyle
}

// Render lays out g on a width x height canvas and writes it as SVG. Pinned
// nodes are held at their coordinates while the rest settle around them; pins
// naming unknown nodes are ignored.
func Render(w io.Writer, g *domain.ArchitectureGraph, width, height float64, pins ...Pin) error {
	sim := NewSimulation(g, width, height)
	for _, p := range pins {
		if !sim.Drag(p.ID, p.X, p.Y) {
			slog.Debug("Ignoring pin for unknown node", "id", p.ID)
		}
	}
	// Pinned nodes stay fixed; only the reheat from dragging is undone.
	sim.alphaTarget = 0
	sim.Run(300)
	return RenderSVG(w, sim)
}

// Pin fixes a node at a canvas position.
type Pin struct {
	ID   string
	X, Y float64
}

// ParsePin reads "id:x:y". The id may itself contain colons.
func ParsePin(s string) (Pin, error) {
	j := strings.LastIndex(s, ":")
	if j <= 0 {
		return Pin{}, fmt.Errorf("pin %q: want id:x:y: %w", s, errdefs.ErrInvalidArgument)
	}
	i := strings.LastIndex(s[:j], ":")
	if i <= 0 {
		return Pin{}, fmt.Errorf("pin %q: want id:x:y: %w", s, errdefs.ErrInvalidArgument)
	}
	x, errX := strconv.ParseFloat(s[i+1:j], 64)
	y, errY := strconv.ParseFloat(s[j+1:], 64)
	if errX != nil || errY != nil || math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Pin{}, fmt.Errorf("pin %q: bad coordinates: %w", s, errdefs.ErrInvalidArgument)
	}
	return Pin{ID: s[:i], X: x, Y: y}, nil
}

// RenderSVG writes the simulation's current positions as an SVG document.
func RenderSVG(w io.Writer, sim *Simulation) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`+"\n",
		num(sim.Width), num(sim.Height), num(sim.Width), num(sim.Height))

	if len(sim.Nodes()) == 0 {
		fmt.Fprintf(bw, `<text x="%s" y="%s" text-anchor="middle" fill="#94a3b8" font-family="sans-serif" font-size="14">%s</text>`+"\n",
			num(sim.Width/2), num(sim.Height/2), escape(Placeholder))
		bw.WriteString("</svg>\n")
		return bw.Flush()
	}

	bw.WriteString(`<defs><marker id="arrowhead" viewBox="0 -5 10 10" refX="10" refY="0" markerWidth="6" markerHeight="6" orient="auto">` +
		`<path d="M0,-5L10,0L0,5" fill="#999"/></marker></defs>` + "\n")

	bw.WriteString(`<g class="links">` + "\n")
	for _, l := range sim.Links() {
		x1, y1, x2, y2 := edge(l.Source, l.Target)
		fmt.Fprintf(bw, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="#999" stroke-opacity="0.6" stroke-width="2" marker-end="url(#arrowhead)"/>`+"\n",
			num(x1), num(y1), num(x2), num(y2))
		if l.Label != "" {
			fmt.Fprintf(bw, `<text x="%s" y="%s" text-anchor="middle" fill="#64748b" font-family="sans-serif" font-size="10">%s</text>`+"\n",
				num((l.Source.X+l.Target.X)/2), num((l.Source.Y+l.Target.Y)/2), escape(l.Label))
		}
	}
	bw.WriteString("</g>\n")

	bw.WriteString(`<g class="nodes">` + "\n")
	for _, n := range sim.Nodes() {
		st := StyleFor(n.Type)
		fmt.Fprintf(bw, `<g transform="translate(%s,%s)" data-id="%s" data-type="%s">`,
			num(n.X), num(n.Y), escape(n.ID), escape(string(n.Type)))
		fmt.Fprintf(bw, `<circle r="%s" fill="%s" stroke="#fff" stroke-width="2"/>`, num(NodeRadius), st.Fill)
		label := n.Label
		if label == "" {
			label = n.ID
		}
		fmt.Fprintf(bw, `<text y="%s" text-anchor="middle" fill="#1e293b" font-family="sans-serif" font-size="12" font-weight="600">%s</text>`,
			num(NodeRadius+16), escape(label))
		bw.WriteString("</g>\n")
	}
	bw.WriteString("</g>\n</svg>\n")
	return bw.Flush()
}

// edge trims a link so it starts and ends on the node circles.
func edge(src, dst *Node) (x1, y1, x2, y2 float64) {
	dx, dy := dst.X-src.X, dst.Y-src.Y
	d := math.Hypot(dx, dy)
	if d <= 2*NodeRadius {
		return src.X, src.Y, dst.X, dst.Y
	}
	ux, uy := dx/d, dy/d
	return src.X + ux*NodeRadius, src.Y + uy*NodeRadius, dst.X - ux*NodeRadius, dst.Y - uy*NodeRadius
}

func num(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
