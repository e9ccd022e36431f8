package finding

import (
	"errors"

	"github.com/redactyl/emcheck/internal/types"
)

// ErrInvalidArgument is returned when aggregation or building is attempted
// on an empty match list. Callers should skip reporting for the transaction.
var ErrInvalidArgument = errors.New("invalid argument")

// Aggregator computes the overall ratings for a set of matches.
type Aggregator func(matches []types.Match) (types.Severity, types.Confidence, error)

// Aggregate returns the highest severity and the highest confidence present
// among matches. Absent or out-of-range ratings do not take part in the
// comparison. When no match carries a usable rating the lowest defined value
// of that family is returned.
func Aggregate(matches []types.Match) (types.Severity, types.Confidence, error) {
	if len(matches) == 0 {
		return 0, 0, errEmpty("aggregate")
	}
	sev := types.SevInfo
	conf := types.ConfTentative
	for _, m := range matches {
		if m.Severity.Valid() && m.Severity.Rank() > sev.Rank() {
			sev = m.Severity
		}
		if m.Confidence.Valid() && m.Confidence.Rank() > conf.Rank() {
			conf = m.Confidence
		}
	}
	return sev, conf, nil
}
