package loans

import (
	"errors"
	"math/big"
	"sort"
	"strings"

	"tranchor/fixedpoint"
	nativecommon "tranchor/native/common"
	"tranchor/native/oracle"
)

var (
	errNilState            = errors.New("loans engine: state not configured")
	errOracleNotConfigured = errors.New("loans engine: price view not configured")
	errPoolRequired        = errors.New("loans engine: pool identifier required")

	// ErrLoanNotFound is returned when the pool holds no loan with the id.
	ErrLoanNotFound = errors.New("loans engine: loan not found")
	// ErrLoanNotActive is returned when an operation needs a funded loan.
	ErrLoanNotActive = errors.New("loans engine: loan not active")
	// ErrCollateralInUse is returned when the collateral already secures an
	// open loan in the pool.
	ErrCollateralInUse = errors.New("loans engine: collateral already secures a loan")
	// ErrInvalidAmount is returned for missing or non-positive amounts and
	// for funding fields that do not match the pricing mode.
	ErrInvalidAmount = errors.New("loans engine: amount must be positive")
	// ErrAmountTooSmall is returned when an amount truncates to zero
	// normalized debt and would accrue no interest.
	ErrAmountTooSmall = errors.New("loans engine: amount below normalization unit")
	// ErrMaxBorrowExceeded is returned when a drawdown pierces the credit
	// limit or the quantity cap.
	ErrMaxBorrowExceeded = errors.New("loans engine: amount exceeds max borrow")
	// ErrBorrowRestricted is returned when the borrow restriction blocks a
	// drawdown.
	ErrBorrowRestricted = errors.New("loans engine: borrow restriction violated")
	// ErrRepayRestricted is returned when the repay restriction demands the
	// full outstanding debt.
	ErrRepayRestricted = errors.New("loans engine: repay restriction violated")
	// ErrNoOutstandingDebt is returned when repaying a loan without debt.
	ErrNoOutstandingDebt = errors.New("loans engine: no outstanding debt")
	// ErrPriceVariation is returned when a settlement price deviates from
	// the oracle beyond the configured tolerance.
	ErrPriceVariation = errors.New("loans engine: settlement price outside tolerance")
	// ErrNoApplicableRule is returned when the pool policy fires no rule
	// for the loan.
	ErrNoApplicableRule = errors.New("loans engine: no write-off rule applies")
	// ErrNotClosable is returned when a loan still carries debt, quantity
	// or an unresolved write-off.
	ErrNotClosable = errors.New("loans engine: loan has outstanding obligations")
)

const moduleName = nativecommon.ModuleLoans

// engineState is the persistence surface the engine drives. Lookups return
// (nil, nil) when the record does not exist.
type engineState interface {
	GetLoan(pool string, id uint64) (*Loan, error)
	PutLoan(pool string, loan *Loan) error
	ListLoans(pool string) ([]*Loan, error)
	NextLoanID(pool string) (uint64, error)
	GetRateGroup(key string) (*RateGroup, error)
	PutRateGroup(key string, group *RateGroup) error
	GetWriteOffPolicy(pool string) (*WriteOffPolicy, error)
	PutWriteOffPolicy(pool string, policy *WriteOffPolicy) error
}

// PriceView resolves oracle prices for externally priced loans. Fresh
// enforces the freshness window; Latest serves any observation so trigger
// evaluation can inspect its age.
type PriceView interface {
	Latest(pool, priceID string) (oracle.Price, error)
	Fresh(pool, priceID string, now int64) (oracle.Price, error)
}

// FundingAmount instructs a drawdown or repayment. Internally priced loans
// set Amount in pool currency; externally priced loans set Quantity and the
// SettlementPrice the trade executed at, both with QuantityDecimals digits.
type FundingAmount struct {
	Amount          *big.Int `json:"amount,omitempty"`
	Quantity        *big.Int `json:"quantity,omitempty"`
	SettlementPrice *big.Int `json:"settlement_price,omitempty"`
}

// PortfolioValuation aggregates the present value of every active loan of a
// pool at one instant.
type PortfolioValuation struct {
	Pool  string       `json:"pool"`
	At    int64        `json:"at"`
	Total *big.Int     `json:"total"`
	Loans []*Valuation `json:"loans"`
}

// Engine orchestrates the loan lifecycle and valuation over an external
// persistence layer.
type Engine struct {
	state    engineState
	prices   PriceView
	currency fixedpoint.Precision
	pauses   nativecommon.PauseView
}

// NewEngine constructs an engine with the default 18-decimal pool currency.
func NewEngine() *Engine {
	return &Engine{currency: fixedpoint.Currency(18)}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetPrices wires the oracle view used for externally priced loans.
func (e *Engine) SetPrices(prices PriceView) {
	if e == nil {
		return
	}
	e.prices = prices
}

// SetCurrency configures the pool currency precision.
func (e *Engine) SetCurrency(currency fixedpoint.Precision) {
	if e == nil {
		return
	}
	e.currency = currency
}

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Currency returns the configured pool currency precision.
func (e *Engine) Currency() fixedpoint.Precision {
	if e == nil {
		return fixedpoint.Precision{}
	}
	return e.currency
}

// CreateLoan registers a loan with the supplied terms. The loan starts in
// the created state without any funding; the collateral must not secure
// another open loan of the pool.
func (e *Engine) CreateLoan(pool string, info LoanInfo, now int64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return nil, errPoolRequired
	}
	if err := info.Validate(now); err != nil {
		return nil, err
	}
	existing, err := e.state.ListLoans(pool)
	if err != nil {
		return nil, err
	}
	for _, open := range existing {
		if open == nil || open.Status == StatusClosed {
			continue
		}
		if open.Collateral == info.Collateral {
			return nil, ErrCollateralInUse
		}
	}
	id, err := e.state.NextLoanID(pool)
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		Pool:           pool,
		ID:             id,
		Collateral:     info.Collateral,
		Pricing:        info.Pricing.Clone(),
		InterestRate:   new(big.Int).Set(info.InterestRate),
		Schedule:       info.Schedule,
		Restrictions:   info.Restrictions,
		Status:         StatusCreated,
		CreatedAt:      now,
		NormalizedDebt: big.NewInt(0),
		TotalBorrowed:  big.NewInt(0),
		TotalRepaid:    big.NewInt(0),
	}
	if loan.Pricing.Kind == PricingExternal {
		loan.OutstandingQuantity = big.NewInt(0)
	}
	if err := e.state.PutLoan(pool, loan); err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// Borrow draws funds against the loan. The first drawdown originates the
// loan and flips it to active. The transferred pool-currency amount is
// returned alongside the updated loan.
func (e *Engine) Borrow(pool string, id uint64, funding FundingAmount, now int64) (*Loan, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != StatusCreated && loan.Status != StatusActive {
		return nil, nil, ErrLoanNotActive
	}
	if loan.Schedule.Maturity.IsFixed() && now > loan.Schedule.Maturity.Date {
		return nil, nil, ErrExpiredMaturity
	}
	switch loan.Restrictions.Borrow {
	case BorrowNotWrittenOff:
		if !loan.WriteOff.IsNone() {
			return nil, nil, ErrBorrowRestricted
		}
	case BorrowFullOnce:
		if loan.TotalBorrowed.Sign() > 0 {
			return nil, nil, ErrBorrowRestricted
		}
	}

	var amount, quantity *big.Int
	switch loan.Pricing.Kind {
	case PricingInternal:
		if funding.Quantity != nil || funding.SettlementPrice != nil {
			return nil, nil, ErrInvalidAmount
		}
		if funding.Amount == nil || funding.Amount.Sign() <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		if err := e.currency.Check(funding.Amount); err != nil {
			return nil, nil, err
		}
		amount = new(big.Int).Set(funding.Amount)
	case PricingExternal:
		quantity, amount, err = e.resolveExternalFunding(loan, funding, now)
		if err != nil {
			return nil, nil, err
		}
		capacity := new(big.Int).Add(loan.OutstandingQuantity, quantity)
		if capacity.Cmp(loan.Pricing.External.MaxBorrowQuantity) > 0 {
			return nil, nil, ErrMaxBorrowExceeded
		}
	default:
		return nil, nil, ErrInvalidPricing
	}

	group, key, err := e.ensureRateGroup(loan.EffectiveRate(), now)
	if err != nil {
		return nil, nil, err
	}
	if loan.Pricing.Kind == PricingInternal {
		if err := e.checkMaxBorrow(loan, group, amount); err != nil {
			return nil, nil, err
		}
	}
	delta, err := group.Normalize(amount)
	if err != nil {
		return nil, nil, err
	}
	if delta.Sign() == 0 {
		return nil, nil, ErrAmountTooSmall
	}

	loan.NormalizedDebt = new(big.Int).Add(loan.NormalizedDebt, delta)
	loan.TotalBorrowed = new(big.Int).Add(loan.TotalBorrowed, amount)
	if quantity != nil {
		loan.OutstandingQuantity = new(big.Int).Add(loan.OutstandingQuantity, quantity)
	}
	if loan.Status == StatusCreated {
		loan.Status = StatusActive
		loan.OriginatedAt = now
	}

	if err := e.state.PutRateGroup(key, group); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutLoan(loan.Pool, loan); err != nil {
		return nil, nil, err
	}
	return loan.Clone(), amount, nil
}

// Repay settles debt on the loan. Amounts above the accrued debt clamp to
// it, and a repayment that settles the debt exactly zeroes the normalized
// debt so truncation dust cannot keep the loan open. The applied
// pool-currency amount is returned.
func (e *Engine) Repay(pool string, id uint64, funding FundingAmount, now int64) (*Loan, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != StatusActive {
		return nil, nil, ErrLoanNotActive
	}

	group, key, err := e.ensureRateGroup(loan.EffectiveRate(), now)
	if err != nil {
		return nil, nil, err
	}
	debt, err := group.Debt(loan.NormalizedDebt)
	if err != nil {
		return nil, nil, err
	}
	if debt.Sign() == 0 {
		return nil, nil, ErrNoOutstandingDebt
	}

	var requested, quantity *big.Int
	switch loan.Pricing.Kind {
	case PricingInternal:
		if funding.Quantity != nil || funding.SettlementPrice != nil {
			return nil, nil, ErrInvalidAmount
		}
		if funding.Amount == nil || funding.Amount.Sign() <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		requested = new(big.Int).Set(funding.Amount)
	case PricingExternal:
		quantity, requested, err = e.resolveExternalFunding(loan, funding, now)
		if err != nil {
			return nil, nil, err
		}
		// Quantity clamps to the outstanding book, and the settled amount
		// follows the clamped quantity.
		if quantity.Cmp(loan.OutstandingQuantity) > 0 {
			quantity = new(big.Int).Set(loan.OutstandingQuantity)
			requested, err = ExternalValue(quantity, funding.SettlementPrice, e.currency)
			if err != nil {
				return nil, nil, err
			}
		}
		if requested.Sign() == 0 {
			return nil, nil, ErrInvalidAmount
		}
	default:
		return nil, nil, ErrInvalidPricing
	}

	repaid := requested
	if repaid.Cmp(debt) > 0 {
		repaid = new(big.Int).Set(debt)
	}
	if loan.Restrictions.Repay == RepayFull && repaid.Cmp(debt) < 0 {
		return nil, nil, ErrRepayRestricted
	}

	if repaid.Cmp(debt) == 0 {
		loan.NormalizedDebt = big.NewInt(0)
	} else {
		adjusted, err := group.AdjustNormalizedDebt(loan.NormalizedDebt, new(big.Int).Neg(repaid))
		if err != nil {
			return nil, nil, err
		}
		loan.NormalizedDebt = adjusted
	}
	loan.TotalRepaid = new(big.Int).Add(loan.TotalRepaid, repaid)
	if quantity != nil {
		loan.OutstandingQuantity = new(big.Int).Sub(loan.OutstandingQuantity, quantity)
	}

	if err := e.state.PutRateGroup(key, group); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutLoan(loan.Pool, loan); err != nil {
		return nil, nil, err
	}
	return loan.Clone(), repaid, nil
}

// WriteOff applies the pool policy to the loan: the rule with the greatest
// (percentage, penalty) among those whose triggers fire is composed onto the
// current status. Without an applicable rule the call fails with
// ErrNoApplicableRule.
func (e *Engine) WriteOff(pool string, id uint64, now int64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	stored, err := e.state.GetWriteOffPolicy(loan.Pool)
	if err != nil {
		return nil, err
	}
	policy := WriteOffPolicy{}
	if stored != nil {
		policy = *stored
	}
	rule, err := policy.FindRule(e.triggerCheck(loan, now))
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrNoApplicableRule
	}
	if err := e.applyWriteOffStatus(loan, loan.WriteOff.Compose(rule.Status), now); err != nil {
		return nil, err
	}
	if err := e.state.PutLoan(loan.Pool, loan); err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// AdminWriteOff sets an explicit write-off status, bypassing the policy.
// Unlike policy application the status may also weaken a markdown, which is
// the resolution path for operator mistakes and settled recoveries.
func (e *Engine) AdminWriteOff(pool string, id uint64, status WriteOffStatus, now int64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := status.Validate(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	if err := e.applyWriteOffStatus(loan, status.Clone(), now); err != nil {
		return nil, err
	}
	if err := e.state.PutLoan(loan.Pool, loan); err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// Close finishes the loan lifecycle. A created loan closes directly; an
// active one must carry no debt, no outstanding quantity and no write-off.
func (e *Engine) Close(pool string, id uint64, now int64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	switch loan.Status {
	case StatusCreated:
	case StatusActive:
		group, key, err := e.ensureRateGroup(loan.EffectiveRate(), now)
		if err != nil {
			return nil, err
		}
		debt, err := group.Debt(loan.NormalizedDebt)
		if err != nil {
			return nil, err
		}
		if debt.Sign() > 0 {
			return nil, ErrNotClosable
		}
		if loan.OutstandingQuantity != nil && loan.OutstandingQuantity.Sign() > 0 {
			return nil, ErrNotClosable
		}
		if !loan.WriteOff.IsNone() {
			return nil, ErrNotClosable
		}
		if err := e.state.PutRateGroup(key, group); err != nil {
			return nil, err
		}
	default:
		return nil, ErrLoanNotActive
	}
	loan.Status = StatusClosed
	if err := e.state.PutLoan(loan.Pool, loan); err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// PresentValue values one loan at now. Created and closed loans value to
// zero; active loans are valued by their pricing mode and marked down by the
// write-off percentage. The call does not mutate state.
func (e *Engine) PresentValue(pool string, id uint64, now int64) (*Valuation, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	return e.valueLoan(loan, now)
}

// PortfolioValuation values every active loan of the pool and sums the
// results. Any failing loan valuation aborts the aggregate, so a stale
// oracle or an expired maturity blocks the whole figure rather than
// understating it.
func (e *Engine) PortfolioValuation(pool string, now int64) (*PortfolioValuation, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return nil, errPoolRequired
	}
	loans, err := e.state.ListLoans(pool)
	if err != nil {
		return nil, err
	}
	active := make([]*Loan, 0, len(loans))
	for _, loan := range loans {
		if loan == nil || loan.Status != StatusActive {
			continue
		}
		active = append(active, loan)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	result := &PortfolioValuation{
		Pool:  pool,
		At:    now,
		Total: big.NewInt(0),
		Loans: make([]*Valuation, 0, len(active)),
	}
	for _, loan := range active {
		valuation, err := e.valueLoan(loan, now)
		if err != nil {
			return nil, err
		}
		result.Total.Add(result.Total, valuation.Value)
		result.Loans = append(result.Loans, valuation)
	}
	return result, nil
}

// Cashflows projects the expected repayment legs of an active loan from its
// origination date.
func (e *Engine) Cashflows(pool string, id uint64) ([]CashflowPayment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	ratePerSec, err := fixedpoint.RatePerSecond(loan.EffectiveRate())
	if err != nil {
		return nil, err
	}
	principal := loan.OutstandingPrincipal()
	return loan.Schedule.ExpectedCashflows(principal, principal, ratePerSec, loan.OriginatedAt)
}

// ExpectedPayment totals the cashflow legs falling strictly before until.
func (e *Engine) ExpectedPayment(pool string, id uint64, until int64) (*big.Int, error) {
	flows, err := e.Cashflows(pool, id)
	if err != nil {
		return nil, err
	}
	return SumCashflowsBefore(flows, until), nil
}

// SetWriteOffPolicy validates and stores the pool policy.
func (e *Engine) SetWriteOffPolicy(pool string, policy WriteOffPolicy) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return errPoolRequired
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	stored := policy.Clone()
	return e.state.PutWriteOffPolicy(pool, &stored)
}

// WriteOffPolicyOf returns the stored pool policy, empty when unset.
func (e *Engine) WriteOffPolicyOf(pool string) (WriteOffPolicy, error) {
	if e == nil || e.state == nil {
		return WriteOffPolicy{}, errNilState
	}
	stored, err := e.state.GetWriteOffPolicy(strings.TrimSpace(pool))
	if err != nil {
		return WriteOffPolicy{}, err
	}
	if stored == nil {
		return WriteOffPolicy{}, nil
	}
	return stored.Clone(), nil
}

// GetLoan returns a copy of the stored loan.
func (e *Engine) GetLoan(pool string, id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.loadLoan(pool, id)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// ListLoans returns copies of every loan of the pool ordered by id.
func (e *Engine) ListLoans(pool string) ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loans, err := e.state.ListLoans(strings.TrimSpace(pool))
	if err != nil {
		return nil, err
	}
	cloned := make([]*Loan, 0, len(loans))
	for _, loan := range loans {
		if loan == nil {
			continue
		}
		cloned = append(cloned, loan.Clone())
	}
	sort.Slice(cloned, func(i, j int) bool { return cloned[i].ID < cloned[j].ID })
	return cloned, nil
}

func (e *Engine) loadLoan(pool string, id uint64) (*Loan, error) {
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return nil, errPoolRequired
	}
	loan, err := e.state.GetLoan(pool, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// ensureRateGroup loads the rate group of the annual rate, creating it at
// factor One on first reference, and compounds it up to now.
func (e *Engine) ensureRateGroup(annualRate *big.Int, now int64) (*RateGroup, string, error) {
	ratePerSec, err := fixedpoint.RatePerSecond(annualRate)
	if err != nil {
		return nil, "", err
	}
	key := rateKey(ratePerSec)
	group, err := e.state.GetRateGroup(key)
	if err != nil {
		return nil, "", err
	}
	if group == nil {
		group, err = NewRateGroup(ratePerSec, now)
		if err != nil {
			return nil, "", err
		}
		return group, key, nil
	}
	if err := group.Advance(now); err != nil {
		return nil, "", err
	}
	return group, key, nil
}

// previewRateGroup is the read-only sibling of ensureRateGroup: it advances
// a clone so valuation never mutates persisted accrual state.
func (e *Engine) previewRateGroup(annualRate *big.Int, now int64) (*RateGroup, error) {
	ratePerSec, err := fixedpoint.RatePerSecond(annualRate)
	if err != nil {
		return nil, err
	}
	group, err := e.state.GetRateGroup(rateKey(ratePerSec))
	if err != nil {
		return nil, err
	}
	if group == nil {
		return NewRateGroup(ratePerSec, now)
	}
	clone := group.Clone()
	if err := clone.Advance(now); err != nil {
		return nil, err
	}
	return clone, nil
}

func (e *Engine) valueLoan(loan *Loan, now int64) (*Valuation, error) {
	valuation := &Valuation{
		Pool:         loan.Pool,
		ID:           loan.ID,
		At:           now,
		Debt:         big.NewInt(0),
		Value:        big.NewInt(0),
		ExpectedLoss: big.NewInt(0),
		WriteOff:     loan.WriteOff.Clone(),
	}
	if loan.Status != StatusActive {
		return valuation, nil
	}
	group, err := e.previewRateGroup(loan.EffectiveRate(), now)
	if err != nil {
		return nil, err
	}
	debt, err := group.Debt(loan.NormalizedDebt)
	if err != nil {
		return nil, err
	}
	valuation.Debt = debt

	var value *big.Int
	switch loan.Pricing.Kind {
	case PricingInternal:
		pricing := loan.Pricing.Internal
		switch pricing.Valuation.Kind {
		case ValuationOutstandingDebt:
			value = new(big.Int).Set(debt)
		case ValuationDiscountedCashFlow:
			value, err = DiscountedValue(debt, group.RatePerSec, pricing.Valuation.DiscountedCashFlow, now, loan.Schedule.Maturity.Date)
			if err != nil {
				return nil, err
			}
			loss, err := ExpectedLoss(debt, pricing.Valuation.DiscountedCashFlow)
			if err != nil {
				return nil, err
			}
			valuation.ExpectedLoss = loss
		default:
			return nil, ErrInvalidPricing
		}
	case PricingExternal:
		if e.prices == nil {
			return nil, errOracleNotConfigured
		}
		price, err := e.prices.Fresh(loan.Pool, loan.Pricing.External.PriceID, now)
		if err != nil {
			return nil, err
		}
		value, err = ExternalValue(loan.OutstandingQuantity, price.Value, e.currency)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidPricing
	}

	marked, err := applyWriteOff(value, loan.WriteOff)
	if err != nil {
		return nil, err
	}
	valuation.Value = marked
	return valuation, nil
}

// resolveExternalFunding validates the settlement price of an external
// funding instruction against the oracle and converts the quantity into a
// pool-currency amount.
func (e *Engine) resolveExternalFunding(loan *Loan, funding FundingAmount, now int64) (*big.Int, *big.Int, error) {
	if funding.Amount != nil {
		return nil, nil, ErrInvalidAmount
	}
	if funding.Quantity == nil || funding.Quantity.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if funding.SettlementPrice == nil || funding.SettlementPrice.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if e.prices == nil {
		return nil, nil, errOracleNotConfigured
	}
	pricing := loan.Pricing.External
	price, err := e.prices.Fresh(loan.Pool, pricing.PriceID, now)
	if err != nil {
		return nil, nil, err
	}
	tolerance, err := fixedpoint.FractionOf(price.Value, pricing.MaxPriceVariation)
	if err != nil {
		return nil, nil, err
	}
	deviation := new(big.Int).Sub(funding.SettlementPrice, price.Value)
	if deviation.CmpAbs(tolerance) > 0 {
		return nil, nil, ErrPriceVariation
	}
	quantity := new(big.Int).Set(funding.Quantity)
	amount, err := ExternalValue(quantity, funding.SettlementPrice, e.currency)
	if err != nil {
		return nil, nil, err
	}
	if amount.Sign() <= 0 {
		return nil, nil, ErrAmountTooSmall
	}
	return quantity, amount, nil
}

// checkMaxBorrow enforces the internal credit limit: the advance rate share
// of the collateral value, compared against either everything ever borrowed
// or the accrued outstanding debt.
func (e *Engine) checkMaxBorrow(loan *Loan, group *RateGroup, amount *big.Int) error {
	pricing := loan.Pricing.Internal
	limit, err := fixedpoint.FractionOf(pricing.CollateralValue, pricing.AdvanceRate)
	if err != nil {
		return err
	}
	var usage *big.Int
	switch pricing.MaxBorrow {
	case UpToTotalBorrowed:
		usage = new(big.Int).Add(loan.TotalBorrowed, amount)
	case UpToOutstandingDebt:
		debt, err := group.Debt(loan.NormalizedDebt)
		if err != nil {
			return err
		}
		usage = debt.Add(debt, amount)
	default:
		return ErrInvalidPricing
	}
	if usage.Cmp(limit) > 0 {
		return ErrMaxBorrowExceeded
	}
	return nil
}

// applyWriteOffStatus installs a new write-off status on the loan, moving
// its normalized debt between rate groups when the penalty changes the
// effective rate.
func (e *Engine) applyWriteOffStatus(loan *Loan, status WriteOffStatus, now int64) error {
	if bigCmp(loan.WriteOff.Penalty, status.Penalty) == 0 {
		loan.WriteOff = status
		return nil
	}
	oldGroup, oldKey, err := e.ensureRateGroup(loan.EffectiveRate(), now)
	if err != nil {
		return err
	}
	debt, err := oldGroup.Debt(loan.NormalizedDebt)
	if err != nil {
		return err
	}
	loan.WriteOff = status
	newGroup, newKey, err := e.ensureRateGroup(loan.EffectiveRate(), now)
	if err != nil {
		return err
	}
	normalized, err := newGroup.Normalize(debt)
	if err != nil {
		return err
	}
	loan.NormalizedDebt = normalized
	if err := e.state.PutRateGroup(oldKey, oldGroup); err != nil {
		return err
	}
	return e.state.PutRateGroup(newKey, newGroup)
}

// triggerCheck builds the trigger evaluation for one loan at one instant.
func (e *Engine) triggerCheck(loan *Loan, now int64) TriggerCheck {
	return func(trigger WriteOffTrigger) (bool, error) {
		switch trigger.Kind {
		case TriggerPrincipalOverdue:
			if !loan.Schedule.Maturity.IsFixed() {
				return false, nil
			}
			overdue := loan.Schedule.Maturity.Date + int64(trigger.Seconds)
			if overdue < loan.Schedule.Maturity.Date {
				return false, nil
			}
			return now >= overdue, nil
		case TriggerPriceOutdated:
			if loan.Pricing.Kind != PricingExternal {
				return false, nil
			}
			if e.prices == nil {
				return false, errOracleNotConfigured
			}
			price, err := e.prices.Latest(loan.Pool, loan.Pricing.External.PriceID)
			if err != nil {
				return false, err
			}
			outdated := price.UpdatedAt + int64(trigger.Seconds)
			if outdated < price.UpdatedAt {
				return false, nil
			}
			return now >= outdated, nil
		default:
			return false, ErrInvalidWriteOff
		}
	}
}
