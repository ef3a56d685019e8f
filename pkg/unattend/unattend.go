package unattend

import (
	"encoding/xml"
	"fmt"

	"github.com/masterbooter/masterbooter/pkg/schema"
)

const DescriptorName = "autounattend.xml"

// Result is everything derived from one config. It holds no reference to the config.
type Result struct {
	Descriptor []byte
	Layout     Layout
	// DiskScript is empty when the disk is left to the installer UI.
	DiskScript    string
	Commands      []Command
	Scripts       []Script
	RunAll        string
	SetupComplete string
}

// Generate turns a config and the resolved edition index into the installer descriptor,
// the partitioning script and the ordered post-install commands. It has no side effects.
func Generate(c Config, editionIndex int, scripts []Script) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	if editionIndex < 0 {
		return Result{}, schema.NewConfigError("generate", fmt.Errorf("invalid edition index %d", editionIndex))
	}
	if editionIndex == 0 && c.Edition == "" {
		return Result{}, schema.NewConfigError("generate", fmt.Errorf("no edition selected"))
	}
	layout, err := LayoutFor(c.BootMode, c.PartitionStyle)
	if err != nil {
		return Result{}, err
	}
	if err = checkReserved("generate", scripts); err != nil {
		return Result{}, err
	}
	scripts = Order(scripts)
	cmds := Commands(c, scripts)

	doc := document{
		Xmlns: unattendNS,
		Settings: []settings{
			windowsPE(c, layout, editionIndex),
			specialize(c),
			oobeSystem(c, cmds),
		},
	}
	out, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return Result{}, fmt.Errorf("rendering descriptor: %w", err)
	}

	res := Result{
		Descriptor:    append([]byte(xml.Header), append(out, '\n')...),
		Layout:        layout,
		Commands:      cmds,
		Scripts:       scripts,
		RunAll:        RunAll(scripts),
		SetupComplete: SetupCompleteScript(scripts),
	}
	if c.DiskID >= 0 {
		res.DiskScript = layout.DiskpartScript(c.DiskID)
	}
	return res, nil
}
