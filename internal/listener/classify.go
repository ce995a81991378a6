package listener

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hatmlabs/staking-gateway/internal/reconcile"
)

// Keyword groups in priority order. Word boundaries keep "stake" from
// matching inside "unstake".
var (
	stakeRe   = regexp.MustCompile(`\b(stake|staked|staking|deposit|deposited)\b`)
	unstakeRe = regexp.MustCompile(`\b(unstake|unstaked|unstaking|withdraw|withdrawn|withdrawal)\b`)
	claimRe   = regexp.MustCompile(`\b(claim|claimed|reward|rewards)\b`)

	amountRe = regexp.MustCompile(`\b([0-9]+)\b`)
)

// classifyLogs inspects the joined, lowercased program logs and returns the
// event kind plus the first integer amount following the matched keyword.
// Amount 0 means no amount was found in the logs.
func classifyLogs(logs []string) (reconcile.Kind, uint64) {
	joined := strings.ToLower(strings.Join(logs, " "))

	for _, c := range []struct {
		re   *regexp.Regexp
		kind reconcile.Kind
	}{
		{stakeRe, reconcile.KindStake},
		{unstakeRe, reconcile.KindUnstake},
		{claimRe, reconcile.KindClaim},
	} {
		loc := c.re.FindStringIndex(joined)
		if loc == nil {
			continue
		}
		return c.kind, amountAfter(joined[loc[1]:])
	}
	return reconcile.KindUnknown, 0
}

func amountAfter(s string) uint64 {
	m := amountRe.FindString(s)
	if m == "" {
		return 0
	}
	amount, err := strconv.ParseUint(m, 10, 64)
	if err != nil {
		// Longer than uint64; treat as unparseable.
		return 0
	}
	return amount
}
