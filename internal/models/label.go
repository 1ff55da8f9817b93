package models

// Label is one of the fixed classification outcomes a student can choose.
type Label string

const (
	CategoryA  Label = "Category_A"
	CategoryB  Label = "Category_B"
	Neither    Label = "Neither"
	SkipUnsure Label = "Skip/Unsure"
)

// ReasonSeparator joins reason tags in flat exports. Tags never contain it.
const ReasonSeparator = ";"

var labels = []Label{CategoryA, CategoryB, Neither, SkipUnsure}

// Labels returns the closed label set in declaration order.
func Labels() []Label {
	out := make([]Label, len(labels))
	copy(out, labels)
	return out
}

// ParseLabel returns the label named by s, or false if s is not in the set.
func ParseLabel(s string) (Label, bool) {
	for _, l := range labels {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Valid reports whether l is a member of the label set.
func (l Label) Valid() bool {
	_, ok := ParseLabel(string(l))
	return ok
}

// AcceptsReasons reports whether reason tags may be attached to l.
// Only Category_A carries reasons.
func (l Label) AcceptsReasons() bool {
	return l == CategoryA
}

// Verdict is the derived final outcome of an item: pending, a concrete
// label, or the CONFLICT sentinel.
type Verdict string

const (
	VerdictPending  Verdict = ""
	VerdictConflict Verdict = "CONFLICT"
)

// VerdictOf lifts a label into a resolved verdict.
func VerdictOf(l Label) Verdict {
	return Verdict(l)
}

func (v Verdict) IsPending() bool  { return v == VerdictPending }
func (v Verdict) IsConflict() bool { return v == VerdictConflict }

// Label returns the concrete label of a resolved verdict.
func (v Verdict) Label() (Label, bool) {
	if v.IsPending() || v.IsConflict() {
		return "", false
	}
	return ParseLabel(string(v))
}

// Taxonomy is what clients need to render choice controls.
type Taxonomy struct {
	Labels  []Label  `json:"labels"`
	Reasons []string `json:"reasons"`
}
