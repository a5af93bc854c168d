package tokenregistry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrDuplicateToken is returned when two tokens share an ID or an address.
	ErrDuplicateToken = errors.New("duplicate token")
	// ErrUnknownToken is returned by lookups that find nothing.
	ErrUnknownToken = errors.New("unknown token")
)

// Registry provides indexed, read-only access to token metadata.
type Registry struct {
	byID      map[uint64]Token
	byAddress map[common.Address]Token
	bySymbol  map[string]Token
	all       []Token
}

// NewRegistry indexes tokens by ID and address.
func NewRegistry(tokens []Token) (*Registry, error) {
	byID := make(map[uint64]Token, len(tokens))
	byAddress := make(map[common.Address]Token, len(tokens))
	bySymbol := make(map[string]Token, len(tokens))

	for _, t := range tokens {
		if _, ok := byID[t.ID]; ok {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateToken, t.ID)
		}
		if _, ok := byAddress[t.Address]; ok {
			return nil, fmt.Errorf("%w: address %s", ErrDuplicateToken, t.Address.Hex())
		}
		if _, ok := bySymbol[t.Symbol]; ok && t.Symbol != "" {
			return nil, fmt.Errorf("%w: symbol %s", ErrDuplicateToken, t.Symbol)
		}
		byID[t.ID] = t
		byAddress[t.Address] = t
		if t.Symbol != "" {
			bySymbol[t.Symbol] = t
		}
	}

	all := make([]Token, len(tokens))
	copy(all, tokens)
	return &Registry{
		byID:      byID,
		byAddress: byAddress,
		bySymbol:  bySymbol,
		all:       all,
	}, nil
}

// GetByID retrieves a token by its unique ID.
func (r *Registry) GetByID(id uint64) (Token, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// GetByAddress retrieves a token by its contract address.
func (r *Registry) GetByAddress(address common.Address) (Token, bool) {
	t, ok := r.byAddress[address]
	return t, ok
}

// GetBySymbol retrieves a token by its symbol.
func (r *Registry) GetBySymbol(symbol string) (Token, bool) {
	t, ok := r.bySymbol[symbol]
	return t, ok
}

// Resolve returns the tokens with the given IDs, in order.
func (r *Registry) Resolve(ids []uint64) ([]Token, error) {
	out := make([]Token, len(ids))
	for k, id := range ids {
		t, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		out[k] = t
	}
	return out, nil
}

// All returns a copy of every token in registration order.
func (r *Registry) All() []Token {
	allCopy := make([]Token, len(r.all))
	copy(allCopy, r.all)
	return allCopy
}
