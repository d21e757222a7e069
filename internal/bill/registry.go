package bill

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when no bill has the requested ID
var ErrNotFound = errors.New("bill not found")

// Registry is the ordered collection of a session's bills, most recent first.
// Callers only ever see copies; the registry owns the records.
type Registry struct {
	mu    sync.RWMutex
	bills []Bill
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Append adds a bill to the front of the collection
func (r *Registry) Append(b Bill) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bills = append([]Bill{b}, r.bills...)
}

// MarkPaid moves an UNPAID bill to PAID. It reports whether a bill changed;
// unknown IDs and bills that are not UNPAID are left alone.
func (r *Registry) MarkPaid(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.bills {
		if r.bills[i].ID != id {
			continue
		}
		if r.bills[i].Status != StatusUnpaid {
			return false
		}
		r.bills[i].Status = StatusPaid
		return true
	}
	return false
}

// FindByID returns a copy of the bill with the given ID
func (r *Registry) FindByID(id string) (Bill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bills {
		if b.ID == id {
			return b, nil
		}
	}
	return Bill{}, ErrNotFound
}

// List returns a copy of all bills, most recent first
func (r *Registry) List() []Bill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Bill, len(r.bills))
	copy(out, r.bills)
	return out
}

// Len returns the number of bills
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bills)
}

// Reset empties the registry and returns the bills it held
func (r *Registry) Reset() []Bill {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.bills
	r.bills = nil
	return removed
}
