// Package oracle resolves collateral prices for externally priced loans.
// Prices are fixed-point integers carrying PriceDecimals fractional digits
// and are keyed by pool and price identifier.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"tranchor/fixedpoint"
)

// PriceDecimals is the fixed precision every price source reports in.
const PriceDecimals = 18

// Precision returns the fixed-point precision of oracle prices.
func Precision() fixedpoint.Precision {
	return fixedpoint.Currency(PriceDecimals)
}

var (
	// ErrNoPrice indicates that no source has ever observed the price id.
	ErrNoPrice = errors.New("oracle: price not found")
	// ErrNoFreshPrice indicates that the newest observation is older than
	// the configured freshness window.
	ErrNoFreshPrice = errors.New("oracle: no fresh price available")
)

// Price is a single observation for a price identifier. Value carries
// PriceDecimals fractional digits; UpdatedAt is a unix timestamp in seconds.
type Price struct {
	Value     *big.Int
	UpdatedAt int64
	Source    string
}

// Clone returns a deep copy of the price to prevent accidental mutations.
func (p Price) Clone() Price {
	clone := Price{UpdatedAt: p.UpdatedAt, Source: p.Source}
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	}
	return clone
}

// PriceSource resolves the latest observation for a price identifier,
// regardless of its age. Implementations return ErrNoPrice when the
// identifier is unknown.
type PriceSource interface {
	Latest(pool, priceID string) (Price, error)
}

// Aggregator consults registered sources in priority order. Latest returns
// the first observation found; Fresh additionally enforces the freshness
// window against a caller-supplied clock reading.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]PriceSource
	maxAge   int64
}

// NewAggregator constructs an aggregator with the provided priority order and
// freshness window in seconds. A non-positive maxAge disables staleness
// checks.
func NewAggregator(priority []string, maxAge int64) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		sources:  make(map[string]PriceSource),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used by Fresh.
func (a *Aggregator) SetMaxAge(maxAge int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied identifier and
// appends it to the priority order when new.
func (a *Aggregator) Register(name string, source PriceSource) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Latest returns the first observation any source reports for the price id.
func (a *Aggregator) Latest(pool, priceID string) (Price, error) {
	if a == nil {
		return Price{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	a.mu.RUnlock()

	lastErr := error(nil)
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		price, err := source.Latest(pool, priceID)
		if err != nil {
			lastErr = err
			continue
		}
		if price.Value == nil || price.Value.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: source %s returned invalid price", name)
			continue
		}
		result := price.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoPrice
	}
	return Price{}, lastErr
}

// Fresh returns the latest observation if it is no older than the freshness
// window relative to now, and ErrNoFreshPrice otherwise.
func (a *Aggregator) Fresh(pool, priceID string, now int64) (Price, error) {
	price, err := a.Latest(pool, priceID)
	if err != nil {
		return Price{}, err
	}
	a.mu.RLock()
	maxAge := a.maxAge
	a.mu.RUnlock()
	if maxAge > 0 && price.UpdatedAt < now-maxAge {
		return Price{}, ErrNoFreshPrice
	}
	return price, nil
}

// ManualSource provides an in-memory source used for tests and operator
// overrides during incident response.
type ManualSource struct {
	mu     sync.RWMutex
	prices map[string]Price
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{prices: make(map[string]Price)}
}

func manualKey(pool, priceID string) string {
	return strings.TrimSpace(pool) + "/" + strings.TrimSpace(priceID)
}

// Set stores a fixed-point price for the pool and price id.
func (m *ManualSource) Set(pool, priceID string, value *big.Int, updatedAt int64) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	if value == nil || value.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	m.mu.Lock()
	m.prices[manualKey(pool, priceID)] = Price{
		Value:     new(big.Int).Set(value),
		UpdatedAt: updatedAt,
		Source:    "manual",
	}
	m.mu.Unlock()
	return nil
}

// SetDecimal parses a decimal string such as "1.0425" into the fixed price
// precision and stores it. Fractional digits beyond PriceDecimals truncate.
func (m *ManualSource) SetDecimal(pool, priceID, value string, updatedAt int64) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid price %q", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(Precision().Unit()))
	fixed := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return m.Set(pool, priceID, fixed, updatedAt)
}

// Latest implements PriceSource.
func (m *ManualSource) Latest(pool, priceID string) (Price, error) {
	if m == nil {
		return Price{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	stored, ok := m.prices[manualKey(pool, priceID)]
	m.mu.RUnlock()
	if !ok {
		return Price{}, ErrNoPrice
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource pulls prices from a JSON endpoint that answers
// {"price": "<decimal>", "timestamp": <unix seconds>} for a pool and id.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPSource constructs an HTTP source adapter. When client is nil
// http.DefaultClient is used; the API key header is only sent when supplied.
func NewHTTPSource(client HTTPDoer, endpoint, apiKey string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

// Latest implements PriceSource.
func (s *HTTPSource) Latest(pool, priceID string) (Price, error) {
	if s == nil || s.endpoint == "" {
		return Price{}, fmt.Errorf("http source not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Price{}, err
	}
	values := url.Values{}
	values.Set("pool", strings.TrimSpace(pool))
	values.Set("id", strings.TrimSpace(priceID))
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Price{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return Price{}, ErrNoPrice
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Price{}, fmt.Errorf("oracle: http source status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Price{}, fmt.Errorf("oracle: http source decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return Price{}, fmt.Errorf("oracle: http source returned empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return Price{}, fmt.Errorf("oracle: http source returned invalid price %q", payload.Price)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(Precision().Unit()))
	fixed := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return Price{Value: fixed, UpdatedAt: payload.Timestamp, Source: "http"}, nil
}
