// Package entitlement holds the plan catalog and the policy that trims a
// processing request down to what the submitting user's plan permits.
package entitlement

import (
	"fmt"
	"strings"

	"harmonix/internal/services"
)

// Unlimited marks a plan without a monthly song cap.
const Unlimited = -1

// Plan describes one subscription tier.
type Plan struct {
	ID            string
	Name          string
	SongsPerMonth int
	StemTypes     []string
	MaxQuality    string
	ExportFormats []string
	APIAccess     bool
	CommercialUse bool
}

// qualityRank orders quality tiers from cheapest to most expensive.
var qualityRank = map[string]int{
	"fast":     0,
	"balanced": 1,
	"studio":   2,
}

var catalog = map[string]Plan{
	"free": {
		ID:            "free",
		Name:          "Free",
		SongsPerMonth: 3,
		StemTypes:     []string{"vocals", "drums", "bass", "other"},
		MaxQuality:    "fast",
		ExportFormats: []string{"mp3"},
	},
	"creator": {
		ID:            "creator",
		Name:          "Creator",
		SongsPerMonth: 50,
		StemTypes:     []string{"vocals", "drums", "bass", "guitar", "piano", "other"},
		MaxQuality:    "balanced",
		ExportFormats: []string{"mp3", "wav", "flac"},
		CommercialUse: true,
	},
	"studio": {
		ID:            "studio",
		Name:          "Studio",
		SongsPerMonth: Unlimited,
		StemTypes:     []string{"vocals", "drums", "bass", "guitar", "piano", "other"},
		MaxQuality:    "studio",
		ExportFormats: []string{"mp3", "wav", "flac"},
		APIAccess:     true,
		CommercialUse: true,
	},
}

// Resolve looks up a plan by id. Unknown or empty names fall back to the
// free tier, matching what an unauthenticated or stale account gets.
func Resolve(planID string) Plan {
	if plan, ok := catalog[strings.ToLower(strings.TrimSpace(planID))]; ok {
		return plan
	}
	return catalog["free"]
}

// Plans returns the catalog in ascending price order.
func Plans() []Plan {
	return []Plan{catalog["free"], catalog["creator"], catalog["studio"]}
}

// AllowsStem reports whether the plan may receive the given stem type. The
// vocals and instrumental pair is always deliverable: it is the minimum
// output of any separation run.
func (p Plan) AllowsStem(stemType string) bool {
	if stemType == "vocals" || stemType == "instrumental" {
		return true
	}
	for _, allowed := range p.StemTypes {
		if allowed == stemType {
			return true
		}
	}
	return false
}

// ClampQuality lowers a requested quality to the plan ceiling.
func (p Plan) ClampQuality(requested string) string {
	if requested == "" {
		return requested
	}
	if qualityRank[requested] > qualityRank[p.MaxQuality] {
		return p.MaxQuality
	}
	return requested
}

// FilterStems partitions a stem request into the kept set and the silently
// dropped remainder. Order is preserved.
func (p Plan) FilterStems(requested []string) (kept, dropped []string) {
	for _, stemType := range requested {
		if p.AllowsStem(stemType) {
			kept = append(kept, stemType)
		} else {
			dropped = append(dropped, stemType)
		}
	}
	return kept, dropped
}

// CheckQuota returns a validation error when the plan's monthly song limit
// is already spent.
func (p Plan) CheckQuota(usedThisMonth int) error {
	if p.SongsPerMonth == Unlimited {
		return nil
	}
	if usedThisMonth >= p.SongsPerMonth {
		msg := fmt.Sprintf("monthly limit of %d songs reached on the %s plan", p.SongsPerMonth, p.Name)
		return services.Wrap(services.ErrValidation, "entitlement", "quota", msg, nil)
	}
	return nil
}
