package components_test

import (
	"errors"

	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// checkOrder asserts every dependency appears before its dependents.
func checkOrder(order []components.Component) {
	pos := map[string]int{}
	for i, c := range order {
		pos[c.ID] = i
	}
	for _, c := range order {
		for _, dep := range c.Deps {
			Expect(pos).To(HaveKey(dep), "%s needs %s", c.ID, dep)
			Expect(pos[dep]).To(BeNumerically("<", pos[c.ID]), "%s needs %s first", c.ID, dep)
		}
	}
}

var _ = Describe("Resolve", func() {
	simple := components.MustCatalog([]components.Component{
		{ID: "A", Deps: []string{"B"}},
		{ID: "B"},
	})

	It("orders dependencies first regardless of request order", func() {
		for _, req := range [][]string{{"A", "B"}, {"B", "A"}} {
			res, err := components.Resolve(simple, components.Request{Requested: req})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.IDs()).To(Equal([]string{"B", "A"}))
		}
	})

	It("auto includes missing dependencies", func() {
		res, err := components.Resolve(simple, components.Request{Requested: []string{"A"}})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.IDs()).To(Equal([]string{"B", "A"}))
		Expect(res.AutoIncluded).To(Equal([]string{"B"}))
	})

	It("rejects unknown components without resolving anything", func() {
		res, err := components.Resolve(simple, components.Request{Requested: []string{"A", "nope"}, Overrides: map[string]bool{"ghost": true}})
		Expect(errors.Is(err, schema.ErrUnknownComponent)).To(BeTrue())
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("nope, ghost"))
		Expect(res.Order).To(BeEmpty())
	})

	It("rejects cycles naming them", func() {
		cyclic := components.MustCatalog([]components.Component{
			{ID: "x", Deps: []string{"y"}},
			{ID: "y", Deps: []string{"z"}},
			{ID: "z", Deps: []string{"x"}},
			{ID: "free"},
		})
		_, err := components.Resolve(cyclic, components.Request{Requested: []string{"free", "x"}})
		Expect(errors.Is(err, schema.ErrDependencyCycle)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("x -> y -> z -> x"))
		_, err = components.Resolve(cyclic, components.Request{Requested: []string{"free"}})
		Expect(err).ToNot(HaveOccurred())
	})

	It("cascade disables dependents of an explicit override", func() {
		res, err := components.Resolve(components.Default(), components.Request{
			Requested: []string{"wmi", "scripting", "hta", "powershell", "storage_wmi"},
			Overrides: map[string]bool{"scripting": false},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.IDs()).To(Equal([]string{"wmi", "storage_wmi"}))
		Expect(res.CascadeDisabled).To(Equal([]string{"hta", "powershell"}))
	})

	It("rejects an implicit disable something needs", func() {
		_, err := components.Resolve(components.Default(), components.Request{
			Requested: []string{"powershell"},
			Disabled:  []string{"netfx"},
		})
		Expect(errors.Is(err, schema.ErrUnsatisfiedDependency)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("powershell requires netfx"))
	})

	It("lets an override win over an implicit disable", func() {
		res, err := components.Resolve(components.Default(), components.Request{
			Requested: []string{"powershell"},
			Disabled:  []string{"netfx"},
			Overrides: map[string]bool{"netfx": true},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.IDs()).To(Equal([]string{"wmi", "netfx", "scripting", "powershell"}))
	})

	It("breaks ties by catalog position", func() {
		res, err := components.Resolve(components.Default(), components.Request{
			Requested: []string{"gaming_peripherals", "rndis", "fmapi", "wmi"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.IDs()).To(Equal([]string{"wmi", "fmapi", "rndis", "gaming_peripherals"}))
	})

	It("produces a valid order for every default and every full selection", func() {
		cat := components.Default()
		for _, req := range [][]string{cat.Defaults(), cat.RequiredIDs()} {
			res, err := components.Resolve(cat, components.Request{Requested: req})
			Expect(err).ToNot(HaveOccurred())
			checkOrder(res.Order)
		}
		var all []string
		for _, c := range cat.All() {
			all = append(all, c.ID)
		}
		res, err := components.Resolve(cat, components.Request{Requested: all})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Order).To(HaveLen(len(all)))
		checkOrder(res.Order)
	})

	It("rejects catalogs with undeclared dependencies", func() {
		_, err := components.NewCatalog([]components.Component{{ID: "a", Deps: []string{"b"}}})
		Expect(errors.Is(err, schema.ErrUnknownComponent)).To(BeTrue())
	})
})
