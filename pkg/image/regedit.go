package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
)

// RegistryEdit sets one value in an offline hive of the image. Key is relative to the hive root.
// An empty Name targets the default value, an empty Type only creates the key.
type RegistryEdit struct {
	Hive string
	Key  string
	Name string
	Type string
	Data string
}

func DWord(hive, key, name string, value int) RegistryEdit {
	return RegistryEdit{Hive: hive, Key: key, Name: name, Type: "REG_DWORD", Data: fmt.Sprint(value)}
}

func String(hive, key, name, value string) RegistryEdit {
	return RegistryEdit{Hive: hive, Key: key, Name: name, Type: "REG_SZ", Data: value}
}

func ExpandString(hive, key, name, value string) RegistryEdit {
	return RegistryEdit{Hive: hive, Key: key, Name: name, Type: "REG_EXPAND_SZ", Data: value}
}

// MultiString joins values with the \0 separator reg.exe expects.
func MultiString(hive, key, name string, values ...string) RegistryEdit {
	return RegistryEdit{Hive: hive, Key: key, Name: name, Type: "REG_MULTI_SZ", Data: strings.Join(values, `\0`)}
}

// Args is the reg.exe command line for the edit, with the hive loaded at utils.HiveKey.
func (e RegistryEdit) Args() []string {
	args := []string{"add", utils.HiveKey(e.Hive) + `\` + e.Key}
	if e.Type != "" {
		if e.Name == "" {
			args = append(args, "/ve")
		} else {
			args = append(args, "/v", e.Name)
		}
		args = append(args, "/t", e.Type, "/d", e.Data)
	}
	return append(args, "/f")
}

// RegistryWriter applies offline registry edits to the image rooted at root.
type RegistryWriter interface {
	Apply(ctx context.Context, root string, edits []RegistryEdit) error
}

// RegWriter writes through reg.exe, loading each hive once for all of its edits.
type RegWriter struct {
	Runner utils.Runner
}

func (w RegWriter) Apply(ctx context.Context, root string, edits []RegistryEdit) error {
	var order []string
	byHive := map[string][]RegistryEdit{}
	for _, e := range edits {
		hive := strings.ToUpper(e.Hive)
		if _, ok := byHive[hive]; !ok {
			order = append(order, hive)
		}
		byHive[hive] = append(byHive[hive], e)
	}

	var errs error
	for _, hive := range order {
		session := utils.NewHiveSession(root, w.Runner, hive)
		err := session.RunCallback(ctx, func() error {
			var hiveErrs error
			for _, e := range byHive[hive] {
				res, err := w.Runner.Run(ctx, "reg", e.Args()...)
				if err == nil && res.ExitCode != 0 {
					err = &schema.ExternalToolError{Stage: "registry", Tool: "reg", ExitCode: res.ExitCode, Output: res.Output}
				}
				if err != nil {
					hiveErrs = multierror.Append(hiveErrs, fmt.Errorf(`%s\%s\%s: %w`, hive, e.Key, e.Name, err))
				}
			}
			return hiveErrs
		})
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
