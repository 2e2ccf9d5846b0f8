package market

// QuorumReached reports whether votes out of participants meets both the
// percentage threshold and the absolute minimum. The percentage is computed
// as floor(votes*100/participants). No participants means no quorum.
func QuorumReached(votes, participants int, thresholdPercent uint64, minVotes int) bool {
	if participants <= 0 || votes <= 0 || votes < minVotes {
		return false
	}
	return uint64(votes)*100/uint64(participants) >= thresholdPercent
}
