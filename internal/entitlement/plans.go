package entitlement

// Plan identifies the pricing tier.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Feature is a boolean capability.
type Feature string

const (
	FeatureAIScribe          Feature = "ai_scribe"
	FeatureTelehealth        Feature = "telehealth"
	FeatureAdvancedReporting Feature = "advanced_reporting"
	FeatureCustomBranding    Feature = "custom_branding"
	FeatureAPIAccess         Feature = "api_access"
	FeatureFileUploads       Feature = "file_uploads"
	FeatureVideoUploads      Feature = "video_uploads"
)

// AllFeatures lists every known feature in display order.
var AllFeatures = []Feature{
	FeatureAIScribe,
	FeatureTelehealth,
	FeatureAdvancedReporting,
	FeatureCustomBranding,
	FeatureAPIAccess,
	FeatureFileUploads,
	FeatureVideoUploads,
}

// Limit is a numeric ceiling.
type Limit string

const (
	LimitSeats        Limit = "seats"
	LimitStorageBytes Limit = "storage_bytes"
)

// AllLimits lists every known limit.
var AllLimits = []Limit{LimitSeats, LimitStorageBytes}

const gib = int64(1) << 30

// PlanConfig defines what a pricing tier includes.
type PlanConfig struct {
	Plan     Plan
	Features map[Feature]bool
	Limits   map[Limit]int64 // 0 = unlimited
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanFree: {
		Plan:     PlanFree,
		Features: features(),
		Limits:   map[Limit]int64{LimitSeats: 3, LimitStorageBytes: 1 * gib},
	},
	PlanStarter: {
		Plan:     PlanStarter,
		Features: features(FeatureTelehealth, FeatureFileUploads),
		Limits:   map[Limit]int64{LimitSeats: 10, LimitStorageBytes: 10 * gib},
	},
	PlanProfessional: {
		Plan: PlanProfessional,
		Features: features(FeatureAIScribe, FeatureTelehealth, FeatureAdvancedReporting,
			FeatureCustomBranding, FeatureFileUploads, FeatureVideoUploads),
		Limits: map[Limit]int64{LimitSeats: 50, LimitStorageBytes: 100 * gib},
	},
	PlanEnterprise: {
		Plan:     PlanEnterprise,
		Features: features(AllFeatures...),
		Limits:   map[Limit]int64{LimitSeats: 0, LimitStorageBytes: 0},
	},
}

func features(fs ...Feature) map[Feature]bool {
	m := make(map[Feature]bool, len(fs))
	for _, f := range fs {
		m[f] = true
	}
	return m
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}

// ValidFeature returns true if the feature key is recognised.
func ValidFeature(f Feature) bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// ConfigFor returns the plan's configuration, falling back to free for
// unknown plans so a corrupted row never grants more than the floor.
func ConfigFor(p Plan) PlanConfig {
	if cfg, ok := Plans[p]; ok {
		return cfg
	}
	return Plans[PlanFree]
}
