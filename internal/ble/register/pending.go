package register

import "fmt"

// Result resolves a request.
type Result struct {
	Value Value
	Err   error
}

// Request is one outstanding register operation. It is owned by the
// engine from Submit until it is resolved.
type Request struct {
	Op      Op
	Address Address
	Data    []byte
	Token   uint16

	// Done is invoked exactly once, on the engine's goroutine. It must
	// not block.
	Done func(Result)

	attempt int
	stop    func() bool
}

// PendingTable maps correlation tokens to outstanding requests and
// enforces one outstanding request per token and per address.
type PendingTable struct {
	byToken map[uint16]*Request
	byAddr  map[Address]uint16
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		byToken: make(map[uint16]*Request),
		byAddr:  make(map[Address]uint16),
	}
}

// Add registers req. It fails with ErrConflict if the address already has
// a request in flight.
func (t *PendingTable) Add(req *Request) error {
	if _, ok := t.byToken[req.Token]; ok {
		return fmt.Errorf("register: token %d already pending", req.Token)
	}
	if tok, ok := t.byAddr[req.Address]; ok {
		return fmt.Errorf("%w (token %d)", ErrConflict, tok)
	}
	t.byToken[req.Token] = req
	t.byAddr[req.Address] = req.Token
	return nil
}

// Get returns the request for token without removing it.
func (t *PendingTable) Get(token uint16) (*Request, bool) {
	req, ok := t.byToken[token]
	return req, ok
}

// HasToken reports whether token is in use.
func (t *PendingTable) HasToken(token uint16) bool {
	_, ok := t.byToken[token]
	return ok
}

// HasAddress reports whether addr has a request in flight.
func (t *PendingTable) HasAddress(addr Address) bool {
	_, ok := t.byAddr[addr]
	return ok
}

// Take removes and returns the request for token. A second Take for the
// same token reports false.
func (t *PendingTable) Take(token uint16) (*Request, bool) {
	req, ok := t.byToken[token]
	if !ok {
		return nil, false
	}
	delete(t.byToken, token)
	delete(t.byAddr, req.Address)
	return req, true
}

// Drain removes and returns every request.
func (t *PendingTable) Drain() []*Request {
	reqs := make([]*Request, 0, len(t.byToken))
	for tok, req := range t.byToken {
		reqs = append(reqs, req)
		delete(t.byToken, tok)
	}
	clear(t.byAddr)
	return reqs
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int { return len(t.byToken) }
