package protocol

import "time"

// PriorityFlags are the verified social-priority markers that earn merit
// boosts and qualify applicants for reserved buckets.
type PriorityFlags struct {
	ELDS       bool `json:"elds"`
	Catchment  bool `json:"catchment"`
	Disability bool `json:"disability"`
}

type ApplicantCreated struct {
	DID   string `json:"did"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type ExamResultAdded struct {
	SubjectID    string `json:"subject_id,omitempty"`
	CredentialID string `json:"credential_id"`
	Subject      string `json:"subject"`
	Score        int64  `json:"score"`
	Grade        string `json:"grade,omitempty"`
	ExamType     string `json:"exam_type,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
}

type UTMEResultAdded struct {
	SubjectID     string   `json:"subject_id,omitempty"`
	JambScore     int64    `json:"jamb_score"`
	SubjectCombo  []string `json:"subject_combo,omitempty"`
	PostUTMEScore *int64   `json:"post_utme_score,omitempty"`
}

type PreferenceUpdated struct {
	SubjectID   string `json:"subject_id,omitempty"`
	Course      string `json:"course"`
	Institution string `json:"institution"`
}

type DocumentUploaded struct {
	SubjectID  string `json:"subject_id,omitempty"`
	DocumentID string `json:"document_id"`
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

type ApplicationSubmitted struct {
	SubjectID     string `json:"subject_id,omitempty"`
	InstitutionID string `json:"institution_id"`
	Program       string `json:"program"`
}

type PriorityStatusVerified struct {
	SubjectID string `json:"subject_id"`
	PriorityFlags
}

type OfferMade struct {
	ApplicantID      string `json:"applicant_id"`
	InstitutionID    string `json:"institution_id"`
	Program          string `json:"program"`
	RoundID          string `json:"round_id"`
	BucketID         string `json:"bucket_id"`
	BucketType       string `json:"bucket_type"`
	MI               int64  `json:"mi"`
	Reason           string `json:"reason"`
	QuotaRuleVersion int    `json:"quota_rule_version"`
	AllocationsRoot  string `json:"allocations_root"`
	SnapshotTip      string `json:"snapshot_tip"`
}

// RuleKey identifies one (institution, program) pair.
type RuleKey struct {
	InstitutionID string
	Program       string
}

func (k RuleKey) String() string { return k.InstitutionID + "/" + k.Program }

type SubjectRequirement struct {
	Subject  string `json:"subject"`
	MinGrade string `json:"min_grade,omitempty"`
	MinScore int64  `json:"min_score,omitempty"`
}

type Enforcement struct {
	FinalCutoff      int64                `json:"final_cutoff"`
	FinalQuota       int                  `json:"final_quota"`
	RequiredSubjects []SubjectRequirement `json:"required_subjects,omitempty"`
}

type DistributionStats struct {
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	Percentile75 float64 `json:"percentile_75"`
	Percentile90 float64 `json:"percentile_90"`
}

type CutoffParams struct {
	CapacityScore     float64           `json:"capacity_score"`
	RigorScore        float64           `json:"rigor_score"`
	DistributionStats DistributionStats `json:"distribution_stats"`
	TierScore         float64           `json:"tier_score"`
	BaseCutoff        float64           `json:"base_cutoff"`
}

type QuotaConstraints struct {
	PhysicalCapacity   int `json:"physical_capacity"`
	AccreditationLimit int `json:"accreditation_limit"`
	BudgetLimit        int `json:"budget_limit"`
}

type QuotaParams struct {
	Constraints        QuotaConstraints `json:"constraints"`
	YieldRate          float64          `json:"yield_rate"`
	StrategyMultiplier float64          `json:"strategy_multiplier"`
}

type Derivation struct {
	CutoffParams CutoffParams `json:"cutoff_params"`
	QuotaParams  QuotaParams  `json:"quota_params"`
}

// AdmissionRule is the payload of RULE_DEFINED.
type AdmissionRule struct {
	InstitutionID string       `json:"institution_id"`
	Program       string       `json:"program"`
	Enforcement   *Enforcement `json:"enforcement"`
	Derivation    *Derivation  `json:"derivation"`
	Timestamp     time.Time    `json:"timestamp"`
}

func (r AdmissionRule) Key() RuleKey {
	return RuleKey{InstitutionID: r.InstitutionID, Program: r.Program}
}

type BucketType string

const (
	BucketMerit         BucketType = "MERIT"
	BucketReserved      BucketType = "RESERVED"
	BucketDiversity     BucketType = "DIVERSITY"
	BucketSpecial       BucketType = "SPECIAL"
	BucketInternational BucketType = "INTERNATIONAL"
)

type QuotaBucket struct {
	BucketID    string     `json:"bucket_id"`
	Type        BucketType `json:"type"`
	Count       int        `json:"count"`
	MinRequired int        `json:"min_required,omitempty"`
	Priority    int        `json:"priority"`
}

// QuotaRule is the payload of QUOTA_RULE_DEFINED.
type QuotaRule struct {
	InstitutionID string        `json:"institution_id"`
	Program       string        `json:"program"`
	Seats         int           `json:"seats"`
	Buckets       []QuotaBucket `json:"buckets"`
	YieldEstimate float64       `json:"yield_estimate,omitempty"`
	Version       int           `json:"version"`
}

func (r QuotaRule) Key() RuleKey {
	return RuleKey{InstitutionID: r.InstitutionID, Program: r.Program}
}

type RegisterKeyRequest struct {
	ActorID string `json:"actor_id"`
}

type RegisterKeyResponse struct {
	ActorID   string `json:"actor_id"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
}

type PublishRuleRequest struct {
	SignerID string        `json:"signer_id,omitempty"`
	Rule     AdmissionRule `json:"rule"`
}

type PublishQuotaRuleRequest struct {
	SignerID string    `json:"signer_id,omitempty"`
	Rule     QuotaRule `json:"rule"`
}

type SubmitApplicationRequest struct {
	ApplicantID   string `json:"applicant_id"`
	InstitutionID string `json:"institution_id"`
	Program       string `json:"program"`
}

// OnboardRequest bundles the events that bring a new applicant onto the
// ledger. Exam and UTME results are appended under IssuerID.
type OnboardRequest struct {
	DID         string              `json:"did"`
	Name        string              `json:"name,omitempty"`
	Email       string              `json:"email,omitempty"`
	IssuerID    string              `json:"issuer_id,omitempty"`
	Exams       []ExamResultAdded   `json:"exams,omitempty"`
	UTME        *UTMEResultAdded    `json:"utme,omitempty"`
	Preferences []PreferenceUpdated `json:"preferences,omitempty"`
}

type OnboardResponse struct {
	DID    string        `json:"did"`
	Events []LedgerEvent `json:"events"`
}

type MatchingRoundRequest struct {
	InstitutionID string `json:"institution_id"`
	Program       string `json:"program"`
	Mode          string `json:"mode,omitempty"`
	RecordOffers  bool   `json:"record_offers,omitempty"`
	SignerID      string `json:"signer_id,omitempty"`
}

type StatsResponse struct {
	TotalEvents       int64          `json:"total_events"`
	TotalApplicants   int            `json:"total_applicants"`
	TotalRules        int            `json:"total_rules"`
	TotalQuotaRules   int            `json:"total_quota_rules"`
	TotalApplications int            `json:"total_applications"`
	TotalMatches      int            `json:"total_matches"`
	EventsByType      map[string]int `json:"events_by_type"`
	LastActivity      *time.Time     `json:"last_activity,omitempty"`
	TipHash           string         `json:"tip_hash"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type HealthResponse struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	NodeID     string `json:"node_id"`
	Status     string `json:"status"`
	LedgerSize int64  `json:"ledger_size"`
	TipHash    string `json:"tip_hash"`
}
