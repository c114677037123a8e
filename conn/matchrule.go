package conn

import (
	"fmt"
	"strings"

	"github.com/dbuscore/dbuscore"
)

// matchRuleString renders match as the bus daemon's AddMatch string
// syntax, in the same field order as the teacher library's
// MatchRule.String (z3ntu-go-dbus/matchrule.go).
func matchRuleString(match dbus.SignalMatch) string {
	params := []string{"type='signal'"}
	if match.Sender != "" {
		params = append(params, fmt.Sprintf("sender='%s'", match.Sender))
	}
	if match.Path != "" {
		params = append(params, fmt.Sprintf("path='%s'", match.Path))
	}
	if match.Interface != "" {
		params = append(params, fmt.Sprintf("interface='%s'", match.Interface))
	}
	if match.Member != "" {
		params = append(params, fmt.Sprintf("member='%s'", match.Member))
	}
	return strings.Join(params, ",")
}

// matchRuleMatches reports whether signal satisfies match, treating a
// blank field as "match anything" (z3ntu-go-dbus/matchrule.go's
// MatchRule._Match).
func matchRuleMatches(match dbus.SignalMatch, signal *dbus.Message) bool {
	if match.Sender != "" && match.Sender != signal.Sender() {
		return false
	}
	if match.Path != "" && match.Path != signal.Path() {
		return false
	}
	if match.Interface != "" && match.Interface != signal.Interface() {
		return false
	}
	if match.Member != "" && match.Member != signal.Member() {
		return false
	}
	return true
}
