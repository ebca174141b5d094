// Package dedupe scores how likely a bank transaction duplicates an existing
// entry, combining amount, date proximity and description similarity.
package dedupe

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	DefaultAmountWeight       = 0.4
	DefaultDateWeight         = 0.2
	DefaultDescriptionWeight  = 0.4
	DefaultThreshold          = 0.7
	DefaultWindowDays         = 3
	DefaultAmountTolerance    = 0.05
	DefaultPartialAmountScore = 0.5
)

const (
	ReasonExactFingerprint            = "exact_fingerprint"
	ReasonSameAccountExactMatch       = "same_account_exact_match"
	ReasonExactAmountDescriptionMatch = "exact_amount_description_match"
	ReasonAmountToleranceDateWindow   = "amount_tolerance_date_window"
	ReasonFuzzyDescriptionDateWindow  = "fuzzy_description_date_window"

	ReasonNoCandidates   = "no_candidates"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonBelowThreshold = "below_threshold"
)

var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

type Weights struct {
	Amount      float64 `yaml:"amount"`
	Date        float64 `yaml:"date"`
	Description float64 `yaml:"description"`
}

func (w Weights) Validate() error {
	if w.Amount < 0 || w.Date < 0 || w.Description < 0 {
		return errors.New("duplicate weights must not be negative")
	}
	if sum := w.Amount + w.Date + w.Description; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("duplicate weights must sum to 1, got %.4f", sum)
	}
	return nil
}

type Config struct {
	Weights            Weights
	Threshold          float64
	WindowDays         int
	AmountTolerance    float64
	PartialAmountScore float64
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Amount:      DefaultAmountWeight,
			Date:        DefaultDateWeight,
			Description: DefaultDescriptionWeight,
		},
		Threshold:          DefaultThreshold,
		WindowDays:         DefaultWindowDays,
		AmountTolerance:    DefaultAmountTolerance,
		PartialAmountScore: DefaultPartialAmountScore,
	}
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("duplicate threshold must be in (0,1], got %v", c.Threshold)
	}
	if c.WindowDays < 0 {
		return errors.New("duplicate window must not be negative")
	}
	if c.AmountTolerance < 0 || c.PartialAmountScore < 0 || c.PartialAmountScore > 1 {
		return errors.New("amount tolerance and partial score must be within range")
	}
	return nil
}

// Result is the outcome of a duplicate check. Match is nil when nothing
// reached the threshold; Confidence then holds the best score seen.
type Result struct {
	Match      *Candidate
	Confidence float64
	Reason     string
}

func (r Result) IsDuplicate() bool { return r.Match != nil }

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config { return e.cfg }

type scored struct {
	candidate   Candidate
	score       float64
	amountExact bool
	descSim     float64
	days        int64
}

// DetectDuplicate scores txn against every candidate and returns the best
// match at or above the threshold. Candidates of opposite sign, another
// currency, outside the date window, or outside the amount tolerance never
// match.
func (e *Engine) DetectDuplicate(txn Candidate, candidates []Candidate) Result {
	if len(candidates) == 0 {
		return Result{Reason: ReasonNoCandidates}
	}

	var best *scored
	inWindow := 0
	for _, c := range candidates {
		if c.Amount.Sign() != txn.Amount.Sign() {
			continue
		}
		if txn.Currency != "" && c.Currency != "" && !strings.EqualFold(txn.Currency, c.Currency) {
			continue
		}
		days := daysBetween(txn.Date, c.Date)
		if days > int64(e.cfg.WindowDays) {
			continue
		}
		inWindow++

		s, ok := e.score(txn, c, days)
		if !ok {
			continue
		}
		if best == nil || better(s, *best) {
			best = &s
		}
	}

	switch {
	case inWindow == 0:
		return Result{Reason: ReasonNoCandidates}
	case best == nil:
		return Result{Reason: ReasonAmountMismatch}
	case best.score < e.cfg.Threshold:
		return Result{Confidence: best.score, Reason: ReasonBelowThreshold}
	}

	match := best.candidate
	return Result{Match: &match, Confidence: best.score, Reason: e.reason(txn, *best)}
}

func (e *Engine) score(txn, c Candidate, days int64) (scored, bool) {
	amountScore, exact, ok := e.amountScore(txn, c)
	if !ok {
		return scored{}, false
	}

	dateScore := 1.0
	if e.cfg.WindowDays > 0 {
		dateScore = 1 - float64(days)/float64(e.cfg.WindowDays)
	}
	descSim := DescriptionSimilarity(txn.Description, c.Description)

	w := e.cfg.Weights
	total := w.Amount*amountScore + w.Date*dateScore + w.Description*descSim
	return scored{
		candidate:   c,
		score:       clamp(total),
		amountExact: exact,
		descSim:     descSim,
		days:        days,
	}, true
}

func (e *Engine) amountScore(txn, c Candidate) (score float64, exact bool, ok bool) {
	currency := txn.Currency
	if currency == "" {
		currency = c.Currency
	}
	if AmountMinor(txn.Amount, currency) == AmountMinor(c.Amount, currency) {
		return 1, true, true
	}

	a, b := txn.Amount.Abs(), c.Amount.Abs()
	larger := decimal.Max(a, b)
	if larger.IsZero() {
		return 0, false, false
	}
	diff, _ := a.Sub(b).Abs().Div(larger).Float64()
	if diff <= e.cfg.AmountTolerance {
		return e.cfg.PartialAmountScore, false, true
	}
	return 0, false, false
}

func (e *Engine) reason(txn Candidate, s scored) string {
	c := s.candidate
	tf := ComputeFingerprint(txn.Description, txn.Amount, txn.Currency, txn.Date, e.cfg.WindowDays)
	cf := ComputeFingerprint(c.Description, c.Amount, txn.Currency, c.Date, e.cfg.WindowDays)
	switch {
	case tf.Key() == cf.Key():
		return ReasonExactFingerprint
	case s.amountExact && s.days == 0 && txn.AccountID != "" && txn.AccountID == c.AccountID:
		return ReasonSameAccountExactMatch
	case s.amountExact && s.descSim == 1:
		return ReasonExactAmountDescriptionMatch
	case !s.amountExact:
		return ReasonAmountToleranceDateWindow
	default:
		return ReasonFuzzyDescriptionDateWindow
	}
}

// better orders by score, then most recent date, then lowest id.
func better(a, b scored) bool {
	if math.Abs(a.score-b.score) > 1e-9 {
		return a.score > b.score
	}
	if !a.candidate.Date.Equal(b.candidate.Date) {
		return a.candidate.Date.After(b.candidate.Date)
	}
	return a.candidate.ID < b.candidate.ID
}

// DescriptionSimilarity is 1 - levenshtein/maxLen over normalized
// descriptions, in runes. Two empty descriptions carry no signal and score 0.
func DescriptionSimilarity(a, b string) float64 {
	ra := []rune(NormalizeDescription(a))
	rb := []rune(NormalizeDescription(b))
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.DistanceForStrings(ra, rb, unitCost)
	return clamp(1 - float64(dist)/float64(maxLen))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
