package quota

import "github.com/xisvar/the-oan/internal/protocol"

// Bucket ids of the default plan.
const (
	DefaultMeritBucket     = "MERIT"
	DefaultCatchmentBucket = "CATCHMENT"
	DefaultELDSBucket      = "ELDS"
)

// DefaultPlan derives a quota rule from an admission rule's final quota:
// 70% merit and 20% catchment (both floored), the remainder ELDS. It is used
// when no QUOTA_RULE_DEFINED event exists for the program.
func DefaultPlan(rule protocol.AdmissionRule) protocol.QuotaRule {
	seats := 0
	if rule.Enforcement != nil && rule.Enforcement.FinalQuota > 0 {
		seats = rule.Enforcement.FinalQuota
	}
	meritSeats := seats * 70 / 100
	catchment := seats * 20 / 100
	elds := seats - meritSeats - catchment

	yield := 1.0
	if rule.Derivation != nil && rule.Derivation.QuotaParams.YieldRate > 0 {
		yield = rule.Derivation.QuotaParams.YieldRate
	}

	return protocol.QuotaRule{
		InstitutionID: rule.InstitutionID,
		Program:       rule.Program,
		Seats:         seats,
		Buckets: []protocol.QuotaBucket{
			{BucketID: DefaultMeritBucket, Type: protocol.BucketMerit, Count: meritSeats, Priority: 30},
			{BucketID: DefaultCatchmentBucket, Type: protocol.BucketReserved, Count: catchment, Priority: 20},
			{BucketID: DefaultELDSBucket, Type: protocol.BucketDiversity, Count: elds, Priority: 10},
		},
		YieldEstimate: yield,
		Version:       1,
	}
}
