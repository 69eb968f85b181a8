// Package diagram lays out an architecture graph with a force simulation and
// renders it as SVG.
package diagram

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// Force parameters.
const (
	LinkDistance    = 150.0
	ChargeStrength  = -1000.0
	CollideRadius   = 60.0
	NodeRadius      = 30.0
	alphaMin        = 0.001
	velocityDecay   = 0.4
	dragAlphaTarget = 0.3
	initialRadius   = 10.0
)

var (
	alphaDecay   = 1 - math.Pow(alphaMin, 1.0/300)
	initialAngle = math.Pi * (3 - math.Sqrt(5))
)

// Node is a positioned graph node.
type Node struct {
	domain.ComponentNode
	X, Y   float64
	VX, VY float64
	FX, FY *float64
}

// Pinned reports whether the node is held in place by a drag.
func (n *Node) Pinned() bool { return n.FX != nil }

// Link is a renderable connection between two positioned nodes.
type Link struct {
	domain.Connection
	Source, Target *Node
}

// Simulation is a velocity Verlet force layout with link, many-body,
// centering and collision forces.
type Simulation struct {
	Width, Height float64

	nodes   []*Node
	links   []Link
	byID    map[string]*Node
	skipped []domain.Connection

	alpha       float64
	alphaTarget float64

	strengths []float64
	biases    []float64
	rng       *rand.Rand
}

// NewSimulation places the graph's nodes on a phyllotaxis spiral around the
// canvas center. Links naming a missing node are skipped and logged.
func NewSimulation(g *domain.ArchitectureGraph, width, height float64) *Simulation {
	s := &Simulation{
		Width:  width,
		Height: height,
		byID:   make(map[string]*Node),
		alpha:  1,
		rng:    rand.New(rand.NewPCG(1, 2)),
	}
	if g == nil {
		return s
	}

	for i, cn := range g.Nodes {
		r := initialRadius * math.Sqrt(0.5+float64(i))
		a := float64(i) * initialAngle
		n := &Node{ComponentNode: cn, X: width/2 + r*math.Cos(a), Y: height/2 + r*math.Sin(a)}
		s.nodes = append(s.nodes, n)
		s.byID[cn.ID] = n
	}

	count := make(map[*Node]int)
	for _, c := range g.Links {
		src, okS := s.byID[c.Source]
		dst, okT := s.byID[c.Target]
		if !okS || !okT {
			s.skipped = append(s.skipped, c)
			continue
		}
		s.links = append(s.links, Link{Connection: c, Source: src, Target: dst})
		count[src]++
		count[dst]++
	}
	if len(s.skipped) > 0 {
		slog.Warn("Skipping links with unknown endpoints", "count", len(s.skipped))
	}

	for _, l := range s.links {
		cs, ct := float64(count[l.Source]), float64(count[l.Target])
		s.strengths = append(s.strengths, 1/math.Min(cs, ct))
		s.biases = append(s.biases, cs/(cs+ct))
	}
	return s
}

// Nodes returns the positioned nodes in graph order.
func (s *Simulation) Nodes() []*Node { return s.nodes }

// Links returns the renderable links in graph order.
func (s *Simulation) Links() []Link { return s.links }

// Skipped returns links that were dropped because an endpoint is missing.
func (s *Simulation) Skipped() []domain.Connection { return s.skipped }

// Alpha is the current simulation heat.
func (s *Simulation) Alpha() float64 { return s.alpha }

// Settled reports whether the simulation has cooled below its threshold.
func (s *Simulation) Settled() bool { return s.alpha < alphaMin }

// Node returns the node with the given id, or nil.
func (s *Simulation) Node(id string) *Node { return s.byID[id] }

// Drag pins a node at (x, y) and reheats the simulation.
func (s *Simulation) Drag(id string, x, y float64) bool {
	n := s.byID[id]
	if n == nil {
		return false
	}
	n.FX, n.FY = &x, &y
	s.alphaTarget = dragAlphaTarget
	if s.alpha < dragAlphaTarget {
		s.alpha = dragAlphaTarget
	}
	return true
}

// Release unpins a dragged node and lets the simulation cool again.
func (s *Simulation) Release(id string) bool {
	n := s.byID[id]
	if n == nil {
		return false
	}
	n.FX, n.FY = nil, nil
	s.alphaTarget = 0
	return true
}

// Run ticks until the simulation settles, at most maxTicks times.
func (s *Simulation) Run(maxTicks int) int {
	ticks := 0
	for ticks < maxTicks && !s.Settled() {
		s.Tick()
		ticks++
	}
	return ticks
}

// Tick advances the simulation by one step.
func (s *Simulation) Tick() {
	s.alpha += (s.alphaTarget - s.alpha) * alphaDecay

	s.applyLinks()
	s.applyCharge()
	s.applyCollide()
	s.applyCenter()

	for _, n := range s.nodes {
		if n.FX != nil {
			n.X, n.VX = *n.FX, 0
		} else {
			n.VX *= 1 - velocityDecay
			n.X += n.VX
		}
		if n.FY != nil {
			n.Y, n.VY = *n.FY, 0
		} else {
			n.VY *= 1 - velocityDecay
			n.Y += n.VY
		}
	}
}

func (s *Simulation) jiggle() float64 {
	return (s.rng.Float64() - 0.5) * 1e-6
}

func (s *Simulation) applyLinks() {
	for i, l := range s.links {
		src, dst := l.Source, l.Target
		x := dst.X + dst.VX - src.X - src.VX
		y := dst.Y + dst.VY - src.Y - src.VY
		if x == 0 {
			x = s.jiggle()
		}
		if y == 0 {
			y = s.jiggle()
		}
		d := math.Hypot(x, y)
		f := (d - LinkDistance) / d * s.alpha * s.strengths[i]
		x, y = x*f, y*f
		b := s.biases[i]
		dst.VX -= x * b
		dst.VY -= y * b
		src.VX += x * (1 - b)
		src.VY += y * (1 - b)
	}
}

// applyCharge is the exact pairwise form of many-body repulsion; diagrams
// are small enough that no spatial index is needed.
func (s *Simulation) applyCharge() {
	for _, n := range s.nodes {
		for _, o := range s.nodes {
			if n == o {
				continue
			}
			x, y := o.X-n.X, o.Y-n.Y
			if x == 0 {
				x = s.jiggle()
			}
			if y == 0 {
				y = s.jiggle()
			}
			l := x*x + y*y
			if l < 1 {
				l = math.Sqrt(l)
			}
			w := ChargeStrength * s.alpha / l
			n.VX += x * w
			n.VY += y * w
		}
	}
}

func (s *Simulation) applyCollide() {
	r := 2 * CollideRadius
	for i, n := range s.nodes {
		for _, o := range s.nodes[i+1:] {
			x := n.X + n.VX - o.X - o.VX
			y := n.Y + n.VY - o.Y - o.VY
			l := x*x + y*y
			if l >= r*r {
				continue
			}
			if x == 0 {
				x = s.jiggle()
				l += x * x
			}
			if y == 0 {
				y = s.jiggle()
				l += y * y
			}
			d := math.Sqrt(l)
			f := (r - d) / d
			x, y = x*f, y*f
			n.VX += x * 0.5
			n.VY += y * 0.5
			o.VX -= x * 0.5
			o.VY -= y * 0.5
		}
	}
}

func (s *Simulation) applyCenter() {
	if len(s.nodes) == 0 {
		return
	}
	var sx, sy float64
	for _, n := range s.nodes {
		sx += n.X
		sy += n.Y
	}
	sx = sx/float64(len(s.nodes)) - s.Width/2
	sy = sy/float64(len(s.nodes)) - s.Height/2
	for _, n := range s.nodes {
		n.X -= sx
		n.Y -= sy
	}
}
