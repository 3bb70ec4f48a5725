package carrier

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BearBump/ShipBox/internal/models"
)

var ErrCarrierNotFound = errors.New("carrier not found")

// Registry holds the configured carriers keyed by name.
type Registry struct {
	mu       sync.RWMutex
	carriers map[string]models.ShippingCarrier
}

func NewRegistry(carriers ...models.ShippingCarrier) *Registry {
	r := &Registry{carriers: make(map[string]models.ShippingCarrier, len(carriers))}
	for _, c := range carriers {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c models.ShippingCarrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carriers[c.Name] = c
}

func (r *Registry) Get(name string) (models.ShippingCarrier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.carriers[name]; ok {
		return c, nil
	}
	return models.ShippingCarrier{}, fmt.Errorf("%w: %s", ErrCarrierNotFound, name)
}

// All returns carriers sorted by name.
func (r *Registry) All() []models.ShippingCarrier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ShippingCarrier, 0, len(r.carriers))
	for _, c := range r.carriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carriers)
}
