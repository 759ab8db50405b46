package definition

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/pitabwire/eapp/model"
)

// catalog is one immutable generation of definitions.
type catalog struct {
	byProduct map[string]*model.ApplicationDefinition
	sorted    []*model.ApplicationDefinition
	checksum  string
}

func newCatalog(defs []model.ApplicationDefinition) *catalog {
	c := &catalog{byProduct: make(map[string]*model.ApplicationDefinition, len(defs))}
	for i := range defs {
		def := defs[i]
		c.byProduct[def.ProductID] = &def
	}
	c.sorted = slices.SortedFunc(maps.Values(c.byProduct), func(a, b *model.ApplicationDefinition) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	sums := make([]string, len(defs))
	for i := range defs {
		sums[i] = defs[i].Checksum
	}
	slices.Sort(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{'\n'})
	}
	c.checksum = hex.EncodeToString(h.Sum(nil))
	return c
}

// Registry serves the current definitions to concurrent readers. Replace
// swaps in a new generation atomically, so a request sees either the old
// set or the new one, never a mix. Returned definitions are shared and
// must not be modified.
type Registry struct {
	cur atomic.Pointer[catalog]
}

func NewRegistry(defs []model.ApplicationDefinition) *Registry {
	var r Registry
	r.Replace(defs)
	return &r
}

// Replace installs defs. A later definition for the same product wins.
func (r *Registry) Replace(defs []model.ApplicationDefinition) {
	r.cur.Store(newCatalog(defs))
}

func (r *Registry) Get(productID string) (*model.ApplicationDefinition, bool) {
	def, ok := r.cur.Load().byProduct[productID]
	return def, ok
}

// All lists the definitions ordered by product id.
func (r *Registry) All() []*model.ApplicationDefinition {
	return slices.Clone(r.cur.Load().sorted)
}

// Checksum identifies the loaded set independent of load order.
func (r *Registry) Checksum() string {
	return r.cur.Load().checksum
}
