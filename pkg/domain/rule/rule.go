// Package rule implements the routing rules that split a vulnerability graph
// into the part a rule claims and the part passed on to the next rule.
package rule

import (
	"crypto/md5" //nolint:gosec // fingerprint only, kept stable for existing ticket summaries
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
)

// Kind is the closed set of rule kinds.
type Kind string

const (
	KindHostname          Kind = "hostname"
	KindAffectedEntity    Kind = "affectedEntity"
	KindAffectedEntityTag Kind = "affectedEntityTag"
)

// kindSpec binds a rule kind to the graph view it reads and to the removal
// primitive that partitions the graph by matching view values.
type kindSpec struct {
	// fingerprintName feeds the rule ID; changing it changes every ID.
	fingerprintName string
	view            func(*securitydata.SecurityData) []string
	partition       func(sd *securitydata.SecurityData, matches []string, removeMatches bool)
}

var kindSpecs = map[Kind]kindSpec{
	KindHostname: {
		fingerprintName: "HostnameRule",
		view:            (*securitydata.SecurityData).RelatedHostnames,
		partition:       (*securitydata.SecurityData).RemoveAffectedByRelatedHostname,
	},
	KindAffectedEntity: {
		fingerprintName: "AffectedEntityRule",
		view:            (*securitydata.SecurityData).AffectedEntityNames,
		partition:       (*securitydata.SecurityData).RemoveAffectedByName,
	},
	KindAffectedEntityTag: {
		fingerprintName: "AffectedEntityTagRule",
		view:            (*securitydata.SecurityData).AffectedEntityTags,
		partition:       (*securitydata.SecurityData).RemoveAffectedByTag,
	},
}

// AllKinds returns the supported rule kinds.
func AllKinds() []Kind {
	return []Kind{KindHostname, KindAffectedEntity, KindAffectedEntityTag}
}

// IsValid checks if the kind is supported.
func (k Kind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// String returns the string representation.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Config describes a rule before validation.
type Config struct {
	Type         string
	Value        *string
	Operator     string
	MinimumScore *float64
	// MinimumScoreText is the score as written in the configuration file.
	// An integer literal such as "7" fingerprints as "7" rather than "7.0".
	MinimumScoreText string
	StopAfterMatch   bool
	Params           map[string]string
}

// Rule is an immutable, validated routing rule.
type Rule struct {
	kind           Kind
	spec           kindSpec
	value          string
	operator       Operator
	minimumScore   *float64
	scoreLiteral   string
	stopAfterMatch bool
	params         map[string]string
	id             string
}

// New validates cfg and creates a Rule. An empty value is allowed and
// matches everything under startswith and contains.
func New(cfg Config) (*Rule, error) {
	kind, err := ParseKind(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Value == nil {
		return nil, ErrValueRequired
	}
	if cfg.Operator == "" {
		return nil, ErrOperatorRequired
	}
	if cfg.MinimumScore != nil && (*cfg.MinimumScore < securitydata.MinRiskScore || *cfg.MinimumScore > securitydata.MaxRiskScore) {
		return nil, fmt.Errorf("%w: got %v", ErrMinimumScoreRange, *cfg.MinimumScore)
	}
	if len(cfg.Params) == 0 {
		return nil, ErrParamsRequired
	}
	op, err := ParseOperator(cfg.Operator)
	if err != nil {
		return nil, err
	}

	r := &Rule{
		kind:           kind,
		spec:           kindSpecs[kind],
		value:          *cfg.Value,
		operator:       op,
		stopAfterMatch: cfg.StopAfterMatch,
		params:         maps.Clone(cfg.Params),
	}
	if cfg.MinimumScore != nil {
		score := *cfg.MinimumScore
		r.minimumScore = &score
		r.scoreLiteral = strings.TrimSpace(cfg.MinimumScoreText)
	}
	r.id = r.fingerprint()
	return r, nil
}

// Getters

func (r *Rule) Kind() Kind                { return r.kind }
func (r *Rule) Value() string             { return r.value }
func (r *Rule) Operator() Operator        { return r.operator }
func (r *Rule) StopAfterMatch() bool      { return r.stopAfterMatch }
func (r *Rule) Params() map[string]string { return maps.Clone(r.params) }

// ID returns a six character hex fingerprint of the rule definition. The
// same definition always yields the same ID across runs; params do not
// take part.
func (r *Rule) ID() string { return r.id }

// MinimumScore returns the score threshold and whether one is set.
func (r *Rule) MinimumScore() (float64, bool) {
	if r.minimumScore == nil {
		return 0, false
	}
	return *r.minimumScore, true
}

// String returns a short label for logging.
func (r *Rule) String() string {
	return fmt.Sprintf("%s %s %q", r.kind, r.operator, r.value)
}

// Match applies the rule to sd.
//
// It returns (nil, sd) when nothing matches or the risk score is below the
// threshold, and (sd, nil) on a match when the rule stops after matching.
// Otherwise sd is reduced in place to the matching part and a clone holding
// the rest is returned as remainder. A remainder may be empty but is never
// nil in that case. Match(nil) returns (nil, nil).
func (r *Rule) Match(sd *securitydata.SecurityData) (match, remainder *securitydata.SecurityData) {
	if sd == nil {
		return nil, nil
	}
	if r.minimumScore != nil && sd.RiskScore() < *r.minimumScore {
		return nil, sd
	}

	var matches []string
	for _, candidate := range r.spec.view(sd) {
		if r.operator.Eval(candidate, r.value) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return nil, sd
	}
	if r.stopAfterMatch {
		return sd, nil
	}

	remainder = sd.Clone()
	r.spec.partition(sd, matches, false)
	r.spec.partition(remainder, matches, true)
	return sd, remainder
}

func (r *Rule) fingerprint() string {
	h := md5.New() //nolint:gosec
	h.Write([]byte(r.spec.fingerprintName))
	h.Write([]byte(r.operator))
	h.Write([]byte(r.value))
	h.Write([]byte(formatOptionalScore(r.minimumScore, r.scoreLiteral)))
	h.Write([]byte(formatBool(r.stopAfterMatch)))
	return hex.EncodeToString(h.Sum(nil))[:6]
}

// formatOptionalScore renders a score the way rule IDs have always been
// computed: "None" when unset, integer literals as written ("7"), and any
// other number in float form, which always carries a fraction ("7.0") or an
// exponent for very small values ("1e-05").
func formatOptionalScore(score *float64, literal string) string {
	if score == nil {
		return "None"
	}
	if n, err := strconv.ParseInt(literal, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if *score != 0 && math.Abs(*score) < 1e-4 {
		return strconv.FormatFloat(*score, 'g', -1, 64)
	}
	s := strconv.FormatFloat(*score, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
