package orders

import "sort"

type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusProcessing      Status = "processing"
	StatusFulfilled       Status = "fulfilled"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
)

// validNext is the full transition graph. created→failed covers provider
// exhaustion and sweeps of orders that crashed before an intent was attached.
var validNext = map[Status]map[Status]bool{
	StatusCreated:         {StatusAwaitingPayment: true, StatusFailed: true},
	StatusAwaitingPayment: {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:            {StatusProcessing: true, StatusRefunded: true},
	StatusProcessing:      {StatusFulfilled: true},
	StatusFulfilled:       {StatusRefunded: true},
	StatusFailed:          {},
	StatusCancelled:       {},
	StatusRefunded:        {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no legal edge leaves s.
func IsTerminal(s Status) bool {
	return len(validNext[s]) == 0
}

// TerminalStatuses lists every status with no outgoing edge, sorted.
func TerminalStatuses() []Status {
	out := make([]Status, 0, len(validNext))
	for s, next := range validNext {
		if len(next) == 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReachableFrom reports whether `to` can be reached from `from` through one
// or more legal edges. Used to tell a late event that the order has already
// moved past (harmless) from a genuinely impossible one.
func ReachableFrom(from, to Status) bool {
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range validNext[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}
