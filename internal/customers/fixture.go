package customers

import (
	"context"
	"sort"
	"sync"
)

// DemoCustomers is the seed data of the demo screen.
func DemoCustomers() []Customer {
	return []Customer{
		{ID: 1, FirstName: "Jan", LastName: "Kowalski", Email: "jan.kowalski@example.com", BalanceCents: 1542050},
		{ID: 2, FirstName: "Anna", LastName: "Nowak", Email: "anna.nowak@example.com", BalanceCents: 875000},
		{ID: 3, FirstName: "Piotr", LastName: "Wiśniewski", Email: "piotr.wisniewski@example.com", BalanceCents: 2310075},
		{ID: 4, FirstName: "Maria", LastName: "Dąbrowska", Email: "maria.dabrowska@example.com", BalanceCents: 45020},
		{ID: 5, FirstName: "Krzysztof", LastName: "Lewandowski", Email: "k.lewandowski@example.com", BalanceCents: 6789000},
	}
}

// Fixture is an in-memory Source. New records get the highest id plus one.
type Fixture struct {
	mu      sync.RWMutex
	records map[int64]Customer
}

// NewFixture returns a Fixture holding seed.
func NewFixture(seed []Customer) *Fixture {
	fixture := &Fixture{records: make(map[int64]Customer, len(seed))}
	for _, customer := range seed {
		fixture.records[customer.ID] = customer
	}
	return fixture
}

// List returns customers ordered by id.
func (fixture *Fixture) List(_ context.Context) ([]Customer, error) {
	fixture.mu.RLock()
	defer fixture.mu.RUnlock()
	list := make([]Customer, 0, len(fixture.records))
	for _, customer := range fixture.records {
		list = append(list, customer)
	}
	sort.Slice(list, func(left, right int) bool { return list[left].ID < list[right].ID })
	return list, nil
}

func (fixture *Fixture) Get(_ context.Context, id int64) (Customer, error) {
	fixture.mu.RLock()
	defer fixture.mu.RUnlock()
	customer, ok := fixture.records[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return customer, nil
}

func (fixture *Fixture) Create(_ context.Context, input Input) (Customer, error) {
	input, err := Validate(input)
	if err != nil {
		return Customer{}, err
	}
	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	customer := Customer{
		ID:           fixture.nextIDLocked(),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		BalanceCents: ParseBalanceCents(input.Balance),
	}
	fixture.records[customer.ID] = customer
	return customer, nil
}

func (fixture *Fixture) Update(_ context.Context, id int64, input Input) (Customer, error) {
	input, err := Validate(input)
	if err != nil {
		return Customer{}, err
	}
	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	if _, ok := fixture.records[id]; !ok {
		return Customer{}, ErrNotFound
	}
	customer := Customer{
		ID:           id,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		BalanceCents: ParseBalanceCents(input.Balance),
	}
	fixture.records[id] = customer
	return customer, nil
}

func (fixture *Fixture) Delete(_ context.Context, id int64) error {
	fixture.mu.Lock()
	defer fixture.mu.Unlock()
	if _, ok := fixture.records[id]; !ok {
		return ErrNotFound
	}
	delete(fixture.records, id)
	return nil
}

func (fixture *Fixture) nextIDLocked() int64 {
	var highest int64
	for id := range fixture.records {
		if id > highest {
			highest = id
		}
	}
	return highest + 1
}
