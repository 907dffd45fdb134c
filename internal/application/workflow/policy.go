package workflow

import (
	"fmt"
	"strings"
)

// BidExclusivity decides what accepting a bid means for its siblings on the same tender
type BidExclusivity string

const (
	// BidExclusivityBlock refuses to accept a bid when a sibling is already accepted
	BidExclusivityBlock BidExclusivity = "block"
	// BidExclusivityAutoReject blocks like BidExclusivityBlock and rejects open siblings in the same commit
	BidExclusivityAutoReject BidExclusivity = "auto_reject"
	// BidExclusivityAllow accepts any number of bids per tender
	BidExclusivityAllow BidExclusivity = "allow"
)

// ParseBidExclusivity parses a configured policy name
func ParseBidExclusivity(s string) (BidExclusivity, error) {
	switch p := BidExclusivity(strings.ToLower(strings.TrimSpace(s))); p {
	case BidExclusivityBlock, BidExclusivityAutoReject, BidExclusivityAllow:
		return p, nil
	case "":
		return BidExclusivityBlock, nil
	default:
		return "", fmt.Errorf("unknown bid exclusivity policy %q", s)
	}
}
