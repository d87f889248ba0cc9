package loans

import (
	"errors"
	"math/big"

	"tranchor/fixedpoint"
)

var (
	// ErrInvalidPricing signals a pricing configuration that cannot be
	// accepted, such as a missing variant payload or a fraction above one.
	ErrInvalidPricing = errors.New("loans: invalid pricing configuration")
	// ErrInvalidSchedule signals a repayment schedule whose maturity is not
	// strictly in the future at creation time.
	ErrInvalidSchedule = errors.New("loans: invalid repayment schedule")
	// ErrInvalidRestrictions signals an unknown borrow or repay restriction.
	ErrInvalidRestrictions = errors.New("loans: invalid restrictions")
	// ErrInvalidWriteOff signals a write-off state outside the unit range.
	ErrInvalidWriteOff = errors.New("loans: invalid write-off state")
)

// QuantityDecimals is the fixed precision of externally priced quantities.
const QuantityDecimals = 18

// QuantityPrecision returns the fixed-point precision of external quantities.
func QuantityPrecision() fixedpoint.Precision {
	return fixedpoint.Currency(QuantityDecimals)
}

// LoanStatus tracks the lifecycle of a loan. Created loans have terms but no
// funding, Active loans carry debt bookkeeping, Closed loans are terminal.
type LoanStatus uint8

const (
	StatusCreated LoanStatus = iota + 1
	StatusActive
	StatusClosed
)

// Valid reports whether the status is one of the defined lifecycle states.
func (s LoanStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusActive, StatusClosed:
		return true
	default:
		return false
	}
}

func (s LoanStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Collateral references the asset securing a loan in an external registry.
type Collateral struct {
	Collection uint64 `json:"collection"`
	Item       uint64 `json:"item"`
}

// MaturityKind distinguishes dated loans from perpetual ones.
type MaturityKind uint8

const (
	MaturityFixed MaturityKind = iota + 1
	MaturityNone
)

// Maturity describes when a loan is due. Fixed maturities carry a date and
// the number of seconds the date may be extended without repricing;
// perpetual loans have neither.
type Maturity struct {
	Kind      MaturityKind `json:"kind"`
	Date      int64        `json:"date,omitempty"`
	Extension uint64       `json:"extension,omitempty"`
}

// IsFixed reports whether the maturity carries a due date.
func (m Maturity) IsFixed() bool {
	return m.Kind == MaturityFixed
}

// InterestPayments describes when accrued interest falls due.
type InterestPayments uint8

const (
	// InterestOnceAtMaturity expects the full interest in a single payment
	// at the maturity date.
	InterestOnceAtMaturity InterestPayments = iota + 1
)

// PayDownSchedule describes how principal amortises over the loan lifetime.
type PayDownSchedule uint8

const (
	// PayDownNone expects the full principal at maturity.
	PayDownNone PayDownSchedule = iota + 1
)

// RepaymentSchedule bundles the maturity with the interest and principal
// timing of a loan.
type RepaymentSchedule struct {
	Maturity         Maturity         `json:"maturity"`
	InterestPayments InterestPayments `json:"interest_payments"`
	PayDownSchedule  PayDownSchedule  `json:"pay_down_schedule"`
}

// Validate checks the schedule against the reference time: a fixed maturity
// must lie strictly in the future and the timing variants must be known.
func (s RepaymentSchedule) Validate(now int64) error {
	switch s.Maturity.Kind {
	case MaturityFixed:
		if s.Maturity.Date <= now {
			return ErrInvalidSchedule
		}
	case MaturityNone:
		if s.Maturity.Date != 0 || s.Maturity.Extension != 0 {
			return ErrInvalidSchedule
		}
	default:
		return ErrInvalidSchedule
	}
	if s.InterestPayments != InterestOnceAtMaturity {
		return ErrInvalidSchedule
	}
	if s.PayDownSchedule != PayDownNone {
		return ErrInvalidSchedule
	}
	return nil
}

// ValuationKind selects how an internally priced loan is valued.
type ValuationKind uint8

const (
	// ValuationOutstandingDebt marks the loan at its accrued debt.
	ValuationOutstandingDebt ValuationKind = iota + 1
	// ValuationDiscountedCashFlow discounts the expected repayment at
	// maturity back to the valuation time.
	ValuationDiscountedCashFlow
)

// DiscountedCashFlow parametrises the risk-adjusted valuation: default
// probability and loss severity shave the expected cashflow, the discount
// rate pulls it back to present time. All three are ray fractions; the
// discount rate is nominal per annum.
type DiscountedCashFlow struct {
	ProbabilityOfDefault *big.Int `json:"probability_of_default"`
	LossGivenDefault     *big.Int `json:"loss_given_default"`
	DiscountRate         *big.Int `json:"discount_rate"`
}

// Clone returns a deep copy.
func (d *DiscountedCashFlow) Clone() *DiscountedCashFlow {
	if d == nil {
		return nil
	}
	clone := &DiscountedCashFlow{}
	if d.ProbabilityOfDefault != nil {
		clone.ProbabilityOfDefault = new(big.Int).Set(d.ProbabilityOfDefault)
	}
	if d.LossGivenDefault != nil {
		clone.LossGivenDefault = new(big.Int).Set(d.LossGivenDefault)
	}
	if d.DiscountRate != nil {
		clone.DiscountRate = new(big.Int).Set(d.DiscountRate)
	}
	return clone
}

// Validate checks that the probabilities are unit fractions and the discount
// rate is non-negative.
func (d *DiscountedCashFlow) Validate() error {
	if d == nil {
		return ErrInvalidPricing
	}
	if !isUnitFraction(d.ProbabilityOfDefault) || !isUnitFraction(d.LossGivenDefault) {
		return ErrInvalidPricing
	}
	if d.DiscountRate != nil && d.DiscountRate.Sign() < 0 {
		return ErrInvalidPricing
	}
	return nil
}

// ValuationMethod is the tagged choice of valuation for internal pricing.
// The DiscountedCashFlow payload is present only for that kind.
type ValuationMethod struct {
	Kind               ValuationKind       `json:"kind"`
	DiscountedCashFlow *DiscountedCashFlow `json:"discounted_cash_flow,omitempty"`
}

// Clone returns a deep copy.
func (v ValuationMethod) Clone() ValuationMethod {
	return ValuationMethod{Kind: v.Kind, DiscountedCashFlow: v.DiscountedCashFlow.Clone()}
}

// Validate checks the variant payload matches the kind.
func (v ValuationMethod) Validate() error {
	switch v.Kind {
	case ValuationOutstandingDebt:
		if v.DiscountedCashFlow != nil {
			return ErrInvalidPricing
		}
		return nil
	case ValuationDiscountedCashFlow:
		return v.DiscountedCashFlow.Validate()
	default:
		return ErrInvalidPricing
	}
}

// MaxBorrowPolicy bounds how much may be drawn against internal collateral.
type MaxBorrowPolicy uint8

const (
	// UpToTotalBorrowed compares the credit limit against everything ever
	// borrowed, so repayments do not free up headroom.
	UpToTotalBorrowed MaxBorrowPolicy = iota + 1
	// UpToOutstandingDebt compares the credit limit against the accrued
	// outstanding debt, so repayments restore headroom.
	UpToOutstandingDebt
)

// Valid reports whether the policy is a defined variant.
func (p MaxBorrowPolicy) Valid() bool {
	return p == UpToTotalBorrowed || p == UpToOutstandingDebt
}

// InternalPricing values a loan from its appraised collateral. The advance
// rate caps the drawable share of the collateral value.
type InternalPricing struct {
	CollateralValue *big.Int        `json:"collateral_value"`
	Valuation       ValuationMethod `json:"valuation"`
	MaxBorrow       MaxBorrowPolicy `json:"max_borrow"`
	AdvanceRate     *big.Int        `json:"advance_rate"`
}

// Clone returns a deep copy.
func (p *InternalPricing) Clone() *InternalPricing {
	if p == nil {
		return nil
	}
	clone := &InternalPricing{
		Valuation: p.Valuation.Clone(),
		MaxBorrow: p.MaxBorrow,
	}
	if p.CollateralValue != nil {
		clone.CollateralValue = new(big.Int).Set(p.CollateralValue)
	}
	if p.AdvanceRate != nil {
		clone.AdvanceRate = new(big.Int).Set(p.AdvanceRate)
	}
	return clone
}

// Validate checks the collateral value, advance rate and valuation method.
func (p *InternalPricing) Validate() error {
	if p == nil {
		return ErrInvalidPricing
	}
	if p.CollateralValue == nil || p.CollateralValue.Sign() < 0 {
		return ErrInvalidPricing
	}
	if !isUnitFraction(p.AdvanceRate) {
		return ErrInvalidPricing
	}
	if !p.MaxBorrow.Valid() {
		return ErrInvalidPricing
	}
	return p.Valuation.Validate()
}

// ExternalPricing values a loan from an oracle price: the present value is
// the outstanding quantity priced at the latest fresh observation. Notional
// is the reference price per unit of face value; MaxPriceVariation bounds
// how far a settlement price may deviate from the oracle.
type ExternalPricing struct {
	PriceID           string   `json:"price_id"`
	MaxBorrowQuantity *big.Int `json:"max_borrow_quantity"`
	Notional          *big.Int `json:"notional"`
	MaxPriceVariation *big.Int `json:"max_price_variation"`
}

// Clone returns a deep copy.
func (p *ExternalPricing) Clone() *ExternalPricing {
	if p == nil {
		return nil
	}
	clone := &ExternalPricing{PriceID: p.PriceID}
	if p.MaxBorrowQuantity != nil {
		clone.MaxBorrowQuantity = new(big.Int).Set(p.MaxBorrowQuantity)
	}
	if p.Notional != nil {
		clone.Notional = new(big.Int).Set(p.Notional)
	}
	if p.MaxPriceVariation != nil {
		clone.MaxPriceVariation = new(big.Int).Set(p.MaxPriceVariation)
	}
	return clone
}

// Validate checks the identifier, quantity cap and notional.
func (p *ExternalPricing) Validate() error {
	if p == nil {
		return ErrInvalidPricing
	}
	if p.PriceID == "" {
		return ErrInvalidPricing
	}
	if p.MaxBorrowQuantity == nil || p.MaxBorrowQuantity.Sign() < 0 {
		return ErrInvalidPricing
	}
	if p.Notional == nil || p.Notional.Sign() <= 0 {
		return ErrInvalidPricing
	}
	if p.MaxPriceVariation == nil || p.MaxPriceVariation.Sign() < 0 {
		return ErrInvalidPricing
	}
	return nil
}

// PricingKind distinguishes internally appraised loans from oracle-priced
// ones.
type PricingKind uint8

const (
	PricingInternal PricingKind = iota + 1
	PricingExternal
)

// Pricing is the tagged union of the two pricing modes. Exactly one payload
// matching the kind must be present.
type Pricing struct {
	Kind     PricingKind      `json:"kind"`
	Internal *InternalPricing `json:"internal,omitempty"`
	External *ExternalPricing `json:"external,omitempty"`
}

// Clone returns a deep copy.
func (p Pricing) Clone() Pricing {
	return Pricing{Kind: p.Kind, Internal: p.Internal.Clone(), External: p.External.Clone()}
}

// Validate checks that the payload matches the kind.
func (p Pricing) Validate() error {
	switch p.Kind {
	case PricingInternal:
		if p.External != nil {
			return ErrInvalidPricing
		}
		return p.Internal.Validate()
	case PricingExternal:
		if p.Internal != nil {
			return ErrInvalidPricing
		}
		return p.External.Validate()
	default:
		return ErrInvalidPricing
	}
}

// BorrowRestriction gates drawdowns.
type BorrowRestriction uint8

const (
	// BorrowNotWrittenOff blocks further drawdowns once the loan carries
	// any write-off state.
	BorrowNotWrittenOff BorrowRestriction = iota + 1
	// BorrowFullOnce permits a single drawdown over the loan lifetime.
	BorrowFullOnce
)

// RepayRestriction gates repayments.
type RepayRestriction uint8

const (
	// RepayNoRestriction admits partial repayments of any size.
	RepayNoRestriction RepayRestriction = iota + 1
	// RepayFull requires each repayment to settle the entire outstanding
	// debt at once.
	RepayFull
)

// Restrictions pairs the borrow and repay gates of a loan.
type Restrictions struct {
	Borrow BorrowRestriction `json:"borrow"`
	Repay  RepayRestriction  `json:"repay"`
}

// Validate checks both gates are defined variants.
func (r Restrictions) Validate() error {
	switch r.Borrow {
	case BorrowNotWrittenOff, BorrowFullOnce:
	default:
		return ErrInvalidRestrictions
	}
	switch r.Repay {
	case RepayNoRestriction, RepayFull:
	default:
		return ErrInvalidRestrictions
	}
	return nil
}

// WriteOffStatus is the markdown applied to a loan: Percentage is the ray
// fraction of value written off, Penalty the additional annual interest
// charged on top of the nominal rate. The zero value means no write-off.
type WriteOffStatus struct {
	Percentage *big.Int `json:"percentage,omitempty"`
	Penalty    *big.Int `json:"penalty,omitempty"`
}

// Clone returns a deep copy.
func (w WriteOffStatus) Clone() WriteOffStatus {
	clone := WriteOffStatus{}
	if w.Percentage != nil {
		clone.Percentage = new(big.Int).Set(w.Percentage)
	}
	if w.Penalty != nil {
		clone.Penalty = new(big.Int).Set(w.Penalty)
	}
	return clone
}

// IsNone reports whether neither a percentage nor a penalty is in force.
func (w WriteOffStatus) IsNone() bool {
	return bigIsZero(w.Percentage) && bigIsZero(w.Penalty)
}

// Validate checks the percentage is a unit fraction and the penalty is
// non-negative.
func (w WriteOffStatus) Validate() error {
	if !isUnitFraction(w.Percentage) {
		return ErrInvalidWriteOff
	}
	if w.Penalty != nil && w.Penalty.Sign() < 0 {
		return ErrInvalidWriteOff
	}
	return nil
}

// Compose merges two write-off states field-wise, keeping the greater
// percentage and the greater penalty. Applying a rule therefore never
// weakens a markdown already in force.
func (w WriteOffStatus) Compose(other WriteOffStatus) WriteOffStatus {
	return WriteOffStatus{
		Percentage: bigMax(w.Percentage, other.Percentage),
		Penalty:    bigMax(w.Penalty, other.Penalty),
	}
}

// compare orders states lexicographically by (percentage, penalty).
func (w WriteOffStatus) compare(other WriteOffStatus) int {
	if c := bigCmp(w.Percentage, other.Percentage); c != 0 {
		return c
	}
	return bigCmp(w.Penalty, other.Penalty)
}

// TriggerKind names the observable conditions a write-off rule can fire on.
type TriggerKind uint8

const (
	// TriggerPrincipalOverdue fires once the maturity date lies the
	// configured number of seconds in the past.
	TriggerPrincipalOverdue TriggerKind = iota + 1
	// TriggerPriceOutdated fires once the oracle price of an externally
	// priced loan is older than the configured number of seconds.
	TriggerPriceOutdated
)

// Valid reports whether the kind is defined.
func (k TriggerKind) Valid() bool {
	return k == TriggerPrincipalOverdue || k == TriggerPriceOutdated
}

// WriteOffTrigger is one condition of a rule, parametrised in seconds.
type WriteOffTrigger struct {
	Kind    TriggerKind `json:"kind"`
	Seconds uint64      `json:"seconds"`
}

// WriteOffRule couples a trigger set with the status applied when any
// trigger of the set fires.
type WriteOffRule struct {
	Triggers []WriteOffTrigger `json:"triggers"`
	Status   WriteOffStatus    `json:"status"`
}

// Clone returns a deep copy.
func (r WriteOffRule) Clone() WriteOffRule {
	return WriteOffRule{
		Triggers: append([]WriteOffTrigger{}, r.Triggers...),
		Status:   r.Status.Clone(),
	}
}

// Validate checks the trigger kinds and the rule status.
func (r WriteOffRule) Validate() error {
	for _, trigger := range r.Triggers {
		if !trigger.Kind.Valid() {
			return ErrInvalidWriteOff
		}
	}
	return r.Status.Validate()
}

// WriteOffPolicy is the ordered rule collection configured per pool.
type WriteOffPolicy struct {
	Rules []WriteOffRule `json:"rules"`
}

// Clone returns a deep copy.
func (p WriteOffPolicy) Clone() WriteOffPolicy {
	rules := make([]WriteOffRule, 0, len(p.Rules))
	for _, rule := range p.Rules {
		rules = append(rules, rule.Clone())
	}
	return WriteOffPolicy{Rules: rules}
}

// Validate checks every rule.
func (p WriteOffPolicy) Validate() error {
	for _, rule := range p.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoanInfo carries the immutable terms supplied at loan creation.
type LoanInfo struct {
	Collateral   Collateral        `json:"collateral"`
	Pricing      Pricing           `json:"pricing"`
	InterestRate *big.Int          `json:"interest_rate"`
	Schedule     RepaymentSchedule `json:"schedule"`
	Restrictions Restrictions      `json:"restrictions"`
}

// Validate checks the terms against the creation time. Discounted cashflow
// valuation needs a projection horizon, so it is only admitted together with
// a fixed maturity.
func (info LoanInfo) Validate(now int64) error {
	if err := info.Pricing.Validate(); err != nil {
		return err
	}
	if info.InterestRate == nil || info.InterestRate.Sign() < 0 {
		return ErrInvalidPricing
	}
	if err := info.Schedule.Validate(now); err != nil {
		return err
	}
	if info.Pricing.Kind == PricingInternal &&
		info.Pricing.Internal.Valuation.Kind == ValuationDiscountedCashFlow &&
		!info.Schedule.Maturity.IsFixed() {
		return ErrInvalidPricing
	}
	return info.Restrictions.Validate()
}

// Loan is the full persisted record of a single loan.
type Loan struct {
	Pool         string            `json:"pool"`
	ID           uint64            `json:"id"`
	Collateral   Collateral        `json:"collateral"`
	Pricing      Pricing           `json:"pricing"`
	InterestRate *big.Int          `json:"interest_rate"`
	Schedule     RepaymentSchedule `json:"schedule"`
	Restrictions Restrictions      `json:"restrictions"`
	Status       LoanStatus        `json:"status"`
	CreatedAt    int64             `json:"created_at"`
	// OriginatedAt is the time of the first drawdown; zero until then.
	OriginatedAt int64 `json:"originated_at,omitempty"`
	// NormalizedDebt is the pool-currency debt divided by the accumulated
	// factor of the loan's rate group at drawdown time. Multiplying it by
	// the current factor recovers the accrued debt.
	NormalizedDebt *big.Int `json:"normalized_debt"`
	// OutstandingQuantity tracks the face quantity drawn on externally
	// priced loans; nil for internal pricing.
	OutstandingQuantity *big.Int       `json:"outstanding_quantity,omitempty"`
	TotalBorrowed       *big.Int       `json:"total_borrowed"`
	TotalRepaid         *big.Int       `json:"total_repaid"`
	WriteOff            WriteOffStatus `json:"write_off"`
}

// Clone returns a deep copy.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		Pool:         l.Pool,
		ID:           l.ID,
		Collateral:   l.Collateral,
		Pricing:      l.Pricing.Clone(),
		Schedule:     l.Schedule,
		Restrictions: l.Restrictions,
		Status:       l.Status,
		CreatedAt:    l.CreatedAt,
		OriginatedAt: l.OriginatedAt,
		WriteOff:     l.WriteOff.Clone(),
	}
	if l.InterestRate != nil {
		clone.InterestRate = new(big.Int).Set(l.InterestRate)
	}
	if l.NormalizedDebt != nil {
		clone.NormalizedDebt = new(big.Int).Set(l.NormalizedDebt)
	}
	if l.OutstandingQuantity != nil {
		clone.OutstandingQuantity = new(big.Int).Set(l.OutstandingQuantity)
	}
	if l.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(l.TotalBorrowed)
	}
	if l.TotalRepaid != nil {
		clone.TotalRepaid = new(big.Int).Set(l.TotalRepaid)
	}
	return clone
}

// EffectiveRate is the annual accrual rate including the write-off penalty.
func (l *Loan) EffectiveRate() *big.Int {
	rate := big.NewInt(0)
	if l.InterestRate != nil {
		rate.Set(l.InterestRate)
	}
	if l.WriteOff.Penalty != nil {
		rate.Add(rate, l.WriteOff.Penalty)
	}
	return rate
}

// OutstandingPrincipal is the drawn principal net of repayments, floored at
// zero. Interest accrued on top of it is not included.
func (l *Loan) OutstandingPrincipal() *big.Int {
	principal := big.NewInt(0)
	if l.TotalBorrowed != nil {
		principal.Set(l.TotalBorrowed)
	}
	if l.TotalRepaid != nil {
		principal.Sub(principal, l.TotalRepaid)
	}
	if principal.Sign() < 0 {
		principal.SetInt64(0)
	}
	return principal
}

func isUnitFraction(v *big.Int) bool {
	if v == nil {
		return true
	}
	return v.Sign() >= 0 && v.Cmp(fixedpoint.One) <= 0
}

func bigIsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func bigCmp(a, b *big.Int) int {
	zero := big.NewInt(0)
	left, right := zero, zero
	if a != nil {
		left = a
	}
	if b != nil {
		right = b
	}
	return left.Cmp(right)
}

func bigMax(a, b *big.Int) *big.Int {
	if bigCmp(a, b) >= 0 {
		if a == nil {
			return nil
		}
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
