package reassembler

import (
	"strings"

	"github.com/pkg/errors"
)

// FragmentPolicy decides what happens to a complete line whose field count does not match the header.
type FragmentPolicy int

const (
	// FragmentPolicyStrict holds a short line only until the next line arrives.  If the two lines joined
	// together have exactly as many fields as the header they form one record, otherwise the short line is
	// reported as malformed.  Lines with too many fields are reported straight away.
	FragmentPolicyStrict FragmentPolicy = iota
	// FragmentPolicyMerge always assumes a mismatched line is part of a split record and keeps joining it to
	// whatever follows until the field count matches.  A genuinely short row silently corrupts the next one.
	FragmentPolicyMerge
)

func (p FragmentPolicy) String() string {
	switch p {
	case FragmentPolicyStrict:
		return "strict"
	case FragmentPolicyMerge:
		return "merge"
	default:
		return "unknown"
	}
}

func ParseFragmentPolicy(s string) (FragmentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return FragmentPolicyStrict, nil
	case "merge":
		return FragmentPolicyMerge, nil
	default:
		return FragmentPolicyStrict, errors.Errorf("unknown fragment policy %q, expected strict or merge", s)
	}
}

func (p *FragmentPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseFragmentPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p FragmentPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
