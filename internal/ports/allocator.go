package ports

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultStart is the first port handed out by the auto-assign counter.
const DefaultStart = 8554

var ErrPortConflict = errors.New("port already in use")

// Allocator hands out unique local ports for camera streams. Explicit requests are
// rejected when the port is taken; automatic requests come from a counter that only
// moves forward, so an auto-assigned port is never handed out twice.
type Allocator struct {
	sync.Mutex
	used map[int]struct{}
	next int
}

func New(start int) *Allocator {
	if start <= 0 {
		start = DefaultStart
	}
	return &Allocator{
		Mutex: sync.Mutex{},
		used:  make(map[int]struct{}),
		next:  start,
	}
}

// Allocate claims explicit when it is non-zero, otherwise the next free counter value.
func (a *Allocator) Allocate(explicit int) (int, error) {
	a.Lock()
	defer a.Unlock()

	if explicit != 0 {
		if explicit < 0 || explicit > 65535 {
			return 0, fmt.Errorf("invalid port %d", explicit)
		}
		if _, taken := a.used[explicit]; taken {
			return 0, fmt.Errorf("port %d: %w", explicit, ErrPortConflict)
		}
		a.used[explicit] = struct{}{}
		return explicit, nil
	}

	for {
		port := a.next
		if port > 65535 {
			return 0, errors.New("port range exhausted")
		}
		a.next++
		if _, taken := a.used[port]; taken {
			continue
		}
		a.used[port] = struct{}{}
		return port, nil
	}
}

// Release drops port from the claimed set. The counter is not rewound.
func (a *Allocator) Release(port int) {
	a.Lock()
	defer a.Unlock()
	delete(a.used, port)
}

func (a *Allocator) InUse(port int) bool {
	a.Lock()
	defer a.Unlock()
	_, taken := a.used[port]
	return taken
}

func (a *Allocator) Ports() []int {
	a.Lock()
	defer a.Unlock()

	ports := make([]int, 0, len(a.used))
	for port := range a.used {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
