package loans

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tranchor/storage"
)

const (
	loanKeyPrefix   = "loans/loan/"
	indexKeyPrefix  = "loans/index/"
	seqKeyPrefix    = "loans/seq/"
	groupKeyPrefix  = "loans/rate/"
	policyKeyPrefix = "loans/policy/"
)

// Store persists engine state as JSON records in a key-value database. It is
// not safe for concurrent writers; callers serialise mutations.
type Store struct {
	db storage.Database
}

// NewStore wraps the database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func loanKey(pool string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", loanKeyPrefix, strings.TrimSpace(pool), id))
}

func indexKey(pool string) []byte {
	return []byte(indexKeyPrefix + strings.TrimSpace(pool))
}

func seqKey(pool string) []byte {
	return []byte(seqKeyPrefix + strings.TrimSpace(pool))
}

func groupKey(key string) []byte {
	return []byte(groupKeyPrefix + key)
}

func policyKey(pool string) []byte {
	return []byte(policyKeyPrefix + strings.TrimSpace(pool))
}

// GetLoan returns the stored loan or (nil, nil) when absent.
func (s *Store) GetLoan(pool string, id uint64) (*Loan, error) {
	raw, err := s.db.Get(loanKey(pool, id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	loan := new(Loan)
	if err := json.Unmarshal(raw, loan); err != nil {
		return nil, fmt.Errorf("loans store: decode loan: %w", err)
	}
	return loan, nil
}

// PutLoan stores the loan and registers its id in the pool index.
func (s *Store) PutLoan(pool string, loan *Loan) error {
	if loan == nil {
		return fmt.Errorf("loans store: nil loan")
	}
	raw, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("loans store: encode loan: %w", err)
	}
	if err := s.db.Put(loanKey(pool, loan.ID), raw); err != nil {
		return err
	}
	ids, err := s.loanIndex(pool)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == loan.ID {
			return nil
		}
	}
	ids = append(ids, loan.ID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("loans store: encode index: %w", err)
	}
	return s.db.Put(indexKey(pool), encoded)
}

// ListLoans returns every loan of the pool in id order.
func (s *Store) ListLoans(pool string) ([]*Loan, error) {
	ids, err := s.loanIndex(pool)
	if err != nil {
		return nil, err
	}
	loans := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := s.GetLoan(pool, id)
		if err != nil {
			return nil, err
		}
		if loan == nil {
			continue
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

// NextLoanID increments and returns the pool sequence, starting at one.
func (s *Store) NextLoanID(pool string) (uint64, error) {
	var last uint64
	raw, err := s.db.Get(seqKey(pool))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if err := json.Unmarshal(raw, &last); err != nil {
			return 0, fmt.Errorf("loans store: decode sequence: %w", err)
		}
	}
	next := last + 1
	encoded, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("loans store: encode sequence: %w", err)
	}
	if err := s.db.Put(seqKey(pool), encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// GetRateGroup returns the stored rate group or (nil, nil) when absent.
func (s *Store) GetRateGroup(key string) (*RateGroup, error) {
	raw, err := s.db.Get(groupKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	group := new(RateGroup)
	if err := json.Unmarshal(raw, group); err != nil {
		return nil, fmt.Errorf("loans store: decode rate group: %w", err)
	}
	return group, nil
}

// PutRateGroup stores the rate group.
func (s *Store) PutRateGroup(key string, group *RateGroup) error {
	if group == nil {
		return fmt.Errorf("loans store: nil rate group")
	}
	raw, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("loans store: encode rate group: %w", err)
	}
	return s.db.Put(groupKey(key), raw)
}

// GetWriteOffPolicy returns the stored policy or (nil, nil) when unset.
func (s *Store) GetWriteOffPolicy(pool string) (*WriteOffPolicy, error) {
	raw, err := s.db.Get(policyKey(pool))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	policy := new(WriteOffPolicy)
	if err := json.Unmarshal(raw, policy); err != nil {
		return nil, fmt.Errorf("loans store: decode policy: %w", err)
	}
	return policy, nil
}

// PutWriteOffPolicy stores the policy.
func (s *Store) PutWriteOffPolicy(pool string, policy *WriteOffPolicy) error {
	if policy == nil {
		return fmt.Errorf("loans store: nil policy")
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("loans store: encode policy: %w", err)
	}
	return s.db.Put(policyKey(pool), raw)
}

func (s *Store) loanIndex(pool string) ([]uint64, error) {
	raw, err := s.db.Get(indexKey(pool))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("loans store: decode index: %w", err)
	}
	return ids, nil
}
