package order

import (
	"errors"
	"fmt"
	"sort"
)

var ErrOrderNotFound = errors.New("order: not found")

// Registry indexes the active orders by id and by owner.
type Registry struct {
	active map[int64]*Order
	byUser map[int64]map[int64]*Order
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[int64]*Order),
		byUser: make(map[int64]map[int64]*Order),
	}
}

// Add registers a new active order. Ids are unique for the life of the exchange.
func (r *Registry) Add(o *Order) error {
	if _, ok := r.active[o.ID]; ok {
		return fmt.Errorf("order: duplicate id %d", o.ID)
	}
	r.active[o.ID] = o
	user, ok := r.byUser[o.UserID]
	if !ok {
		user = make(map[int64]*Order)
		r.byUser[o.UserID] = user
	}
	user[o.ID] = o
	return nil
}

func (r *Registry) Get(id int64) (*Order, bool) {
	o, ok := r.active[id]
	return o, ok
}

// Remove drops an order that reached a final status.
func (r *Registry) Remove(id int64) error {
	o, ok := r.active[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrOrderNotFound)
	}
	delete(r.active, id)
	user := r.byUser[o.UserID]
	delete(user, id)
	if len(user) == 0 {
		delete(r.byUser, o.UserID)
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.active)
}

// UserOrders returns a user's active orders by ascending id.
func (r *Registry) UserOrders(userID int64) []*Order {
	user := r.byUser[userID]
	out := make([]*Order, 0, len(user))
	for _, o := range user {
		out = append(out, o)
	}
	sortByID(out)
	return out
}

// All returns every active order by ascending id.
func (r *Registry) All() []*Order {
	out := make([]*Order, 0, len(r.active))
	for _, o := range r.active {
		out = append(out, o)
	}
	sortByID(out)
	return out
}

func sortByID(orders []*Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
