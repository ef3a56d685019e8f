package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/spectrocloud-labs/herd"
)

// WriteDAG writes the dag.
func WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Error.Error(), op.Background, op.WeakDeps, op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Background, op.WeakDeps, op.Executed)
			}
		}
	}
	return
}

// Plan validates cfg and describes what a build would do, without touching anything.
func (b *Builder) Plan(cfg Config) (string, error) {
	toolList, err := b.tools(cfg)
	if err != nil {
		return "", err
	}
	bc, err := NewContext("plan", cfg, b.Catalog, toolList)
	if err != nil {
		return "", err
	}

	g := herd.DAG()
	prev := ""
	for _, s := range Stages {
		opts := []herd.OpOption{herd.WithCallback(func(context.Context) error { return nil })}
		if prev != "" {
			opts = append(opts, herd.WithDeps(prev))
		}
		if err = g.Add(s.Op, opts...); err != nil {
			return "", err
		}
		prev = s.Op
	}

	var sb strings.Builder
	sb.WriteString(WriteDAG(g))
	fmt.Fprintf(&sb, "source: %s (index %d)\n", bc.Source, bc.ImageIndex)
	fmt.Fprintf(&sb, "output: %s (label %s)\n", bc.Output, bc.VolumeLabel)
	fmt.Fprintf(&sb, "components: %s\n", strings.Join(bc.Resolution.IDs(), ", "))
	if len(bc.Resolution.AutoIncluded) > 0 {
		fmt.Fprintf(&sb, "included as dependencies: %s\n", strings.Join(bc.Resolution.AutoIncluded, ", "))
	}
	fmt.Fprintf(&sb, "fixes: %s\n", strings.Join(bc.Fixes, ", "))
	var enabled []string
	for _, t := range bc.Tools {
		if t.Usable() {
			enabled = append(enabled, t.Name)
		}
	}
	if len(enabled) > 0 {
		fmt.Fprintf(&sb, "tools: %s\n", strings.Join(enabled, ", "))
	}
	return sb.String(), nil
}
