// Package allocator converts the narrated duration into per-page display
// times for the slideshow.
package allocator

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Tolerance is the largest accepted difference between the plan's sum and
// the narrated total.
const Tolerance = 10 * time.Millisecond

// DefaultMinPage is the display floor for pages without dialogue under the
// weighted policy.
const DefaultMinPage = time.Second

var (
	// ErrNoPages indicates an allocation request for zero images.
	ErrNoPages = errors.New("no pages to allocate")
	// ErrNegativeTotal indicates a negative narrated duration.
	ErrNegativeTotal = errors.New("total duration is negative")
	// ErrUnknownPolicy indicates a policy name that is not recognised.
	ErrUnknownPolicy = errors.New("unknown allocation policy")
	// ErrWeightsMismatch indicates page durations that do not add up to the total.
	ErrWeightsMismatch = errors.New("page durations do not add up to total")
	// ErrSumMismatch indicates a plan whose entries do not add up to the total.
	ErrSumMismatch = errors.New("page duration plan does not sum to total")
	// ErrNegativeEntry indicates a plan with a negative display time.
	ErrNegativeEntry = errors.New("page duration plan has a negative entry")
)

// Policy selects how display time is split.
type Policy string

const (
	// PolicyEqual splits the total evenly across all pages.
	PolicyEqual Policy = "equal"
	// PolicyWeighted gives each page its own narrated duration.
	PolicyWeighted Policy = "weighted"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyEqual, PolicyWeighted:
		return Policy(name), nil
	case "":
		return PolicyEqual, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Plan is the per-image display schedule.
type Plan struct {
	// Requested is the configured policy. Policy is the one actually applied,
	// which differs only when the weighted floor cannot fit.
	Requested Policy          `json:"requested_policy"`
	Policy    Policy          `json:"policy"`
	Display   []time.Duration `json:"display"`
	Total     time.Duration   `json:"total"`
	FellBack  bool            `json:"fell_back"`
}

// Sum adds all display times.
func (p Plan) Sum() time.Duration {
	var sum time.Duration
	for _, entry := range p.Display {
		sum += entry
	}

	return sum
}

// Allocator produces plans for one policy.
type Allocator struct {
	policy  Policy
	minPage time.Duration
}

// New returns an allocator for policy. A non-positive minPage uses DefaultMinPage.
func New(policy Policy, minPage time.Duration) (*Allocator, error) {
	if policy != PolicyEqual && policy != PolicyWeighted {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	if minPage <= 0 {
		minPage = DefaultMinPage
	}

	return &Allocator{policy: policy, minPage: minPage}, nil
}

// Policy returns the configured policy.
func (a *Allocator) Policy() Policy {
	return a.policy
}

// Allocate builds and validates a plan for total narrated time across
// len(pageDurations) images. pageDurations holds each page's own narrated
// duration and is only consulted by the weighted policy.
func (a *Allocator) Allocate(total time.Duration, pageDurations []time.Duration) (Plan, error) {
	if len(pageDurations) == 0 {
		return Plan{}, ErrNoPages
	}

	if total < 0 {
		return Plan{}, fmt.Errorf("%w: %v", ErrNegativeTotal, total)
	}

	var plan Plan

	switch a.policy {
	case PolicyEqual:
		plan = Plan{Policy: PolicyEqual, Display: Equal(total, len(pageDurations))}
	case PolicyWeighted:
		display, ok, err := Weighted(total, pageDurations, a.minPage)
		if err != nil {
			return Plan{}, err
		}

		plan = Plan{Policy: PolicyWeighted, Display: display}
		if !ok {
			plan = Plan{Policy: PolicyEqual, Display: Equal(total, len(pageDurations)), FellBack: true}
		}
	}

	plan.Requested = a.policy
	plan.Total = total

	validateErr := Validate(plan, total)
	if validateErr != nil {
		return Plan{}, validateErr
	}

	return plan, nil
}

// Equal splits total into n entries; the integer remainder goes to the last.
func Equal(total time.Duration, n int) []time.Duration {
	display := make([]time.Duration, n)
	share := total / time.Duration(n)

	for index := range display {
		display[index] = share
	}

	display[n-1] += total - share*time.Duration(n)

	return display
}

// Weighted gives each page its own duration. Pages with zero duration get
// minPage, taken from the voiced pages in proportion to their length so the
// sum still equals total. It reports false when the floors cannot fit.
func Weighted(total time.Duration, pageDurations []time.Duration, minPage time.Duration) ([]time.Duration, bool, error) {
	var voicedSum time.Duration

	empty := 0

	for index, duration := range pageDurations {
		if duration < 0 {
			return nil, false, fmt.Errorf("%w: page %d has %v", ErrNegativeEntry, index+1, duration)
		}

		if duration == 0 {
			empty++
		}

		voicedSum += duration
	}

	if absDuration(voicedSum-total) > Tolerance {
		return nil, false, fmt.Errorf("%w: pages sum to %v, total is %v", ErrWeightsMismatch, voicedSum, total)
	}

	display := append([]time.Duration{}, pageDurations...)
	if empty == 0 {
		display[len(display)-1] += total - voicedSum

		return display, true, nil
	}

	reserved := minPage * time.Duration(empty)
	if empty == len(pageDurations) || reserved >= total {
		return nil, false, nil
	}

	remaining := total - reserved
	lastVoiced := -1
	var assigned time.Duration

	for index, duration := range pageDurations {
		if duration == 0 {
			display[index] = minPage

			continue
		}

		display[index] = scale(duration, remaining, voicedSum)
		assigned += display[index]
		lastVoiced = index
	}

	display[lastVoiced] += remaining - assigned

	return display, true, nil
}

// Validate enforces non-negative entries and the sum invariant.
func Validate(plan Plan, total time.Duration) error {
	if len(plan.Display) == 0 {
		return ErrNoPages
	}

	for index, entry := range plan.Display {
		if entry < 0 {
			return fmt.Errorf("%w: page %d has %v", ErrNegativeEntry, index+1, entry)
		}
	}

	sum := plan.Sum()
	if absDuration(sum-total) > Tolerance {
		return fmt.Errorf("%w: sum %v, total %v", ErrSumMismatch, sum, total)
	}

	return nil
}

// scale returns value*numerator/denominator without overflowing int64.
func scale(value, numerator, denominator time.Duration) time.Duration {
	product := new(big.Int).Mul(big.NewInt(int64(value)), big.NewInt(int64(numerator)))
	product.Quo(product, big.NewInt(int64(denominator)))

	return time.Duration(product.Int64())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
