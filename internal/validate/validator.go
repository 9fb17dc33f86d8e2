// Package validate gates record batches on data quality before they reach
// the store. Four checks run per batch: freshness, completeness, accuracy,
// and consistency. The first three can reject; consistency only warns. Each
// accepted record gets a quality score combining the checks.
package validate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// minCompleteness is the required-field fraction below which a record is
// dropped. With three or four required fields per source, any missing
// required field drops the record.
const minCompleteness = 0.95

// Outcome is the per-batch validation result. Accepted carries the records
// that survived, already scored.
type Outcome struct {
	Accepted      []domain.Record
	AcceptedCount int
	RejectedCount int
	Warnings      []string
	Acceptable    bool
}

// Summary renders the outcome for job records and logs.
func (o Outcome) Summary() string {
	return fmt.Sprintf("accepted %d, rejected %d, warnings %d",
		o.AcceptedCount, o.RejectedCount, len(o.Warnings))
}

// Validator applies the quality checks with a fixed policy. In strict mode
// any rejection or stale batch fails the outcome; otherwise rejections are
// tolerated up to a configured ratio of the batch.
type Validator struct {
	strict    bool
	tolerance float64
	weights   config.QualityWeights
	logger    *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Validator {
	return &Validator{
		strict:    cfg.StrictValidation,
		tolerance: cfg.RejectionTolerance,
		weights:   cfg.QualityWeights,
		logger:    logger,
	}
}

// stalenessThreshold is how far behind "now" a source's newest record may
// lag before the batch counts as stale. Household data is a historical
// dataset refreshed weekly; weather and grid are near-real-time feeds.
func stalenessThreshold(s domain.Source) time.Duration {
	switch s {
	case domain.SourceWeather:
		return 3 * time.Hour
	case domain.SourceGrid:
		return 2 * time.Hour
	default:
		return 168 * time.Hour
	}
}

// Validate checks one batch. An empty batch is acceptable and produces an
// empty outcome.
func (v *Validator) Validate(src domain.Source, records []domain.Record) Outcome {
	out := Outcome{Acceptable: true}
	if len(records) == 0 {
		return out
	}

	fresh := v.checkFreshness(src, records, &out)
	if v.strict && !fresh {
		out.RejectedCount = len(records)
		out.Acceptable = false
		return out
	}

	for _, r := range records {
		completeness := r.Completeness()
		if completeness < minCompleteness {
			out.RejectedCount++
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s %s/%s: completeness %.2f below %.2f",
					src, r.EntityKey(), r.Timestamp().Format(time.RFC3339), completeness, minCompleteness))
			continue
		}

		if violations := r.BoundsViolations(); len(violations) > 0 {
			out.RejectedCount++
			for _, violation := range violations {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("%s %s/%s: %s",
						src, r.EntityKey(), r.Timestamp().Format(time.RFC3339), violation))
			}
			continue
		}

		consistencyScore := 1.0
		if issues := r.ConsistencyIssues(); len(issues) > 0 {
			consistencyScore = 0
			for _, issue := range issues {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("%s %s/%s: %s",
						src, r.EntityKey(), r.Timestamp().Format(time.RFC3339), issue))
			}
		}

		r.SetQualityScore(v.score(src, r, completeness, consistencyScore))
		out.Accepted = append(out.Accepted, r)
		out.AcceptedCount++
	}

	ratio := float64(out.RejectedCount) / float64(len(records))
	if v.strict {
		out.Acceptable = out.RejectedCount == 0
	} else {
		out.Acceptable = ratio <= v.tolerance
	}
	if !out.Acceptable {
		v.logger.Warn("batch rejected",
			"source", src, "rejected", out.RejectedCount, "total", len(records), "strict", v.strict)
	}
	return out
}

// checkFreshness gates on the batch's newest timestamp. Synthetic records
// are generated on demand, so a fully synthetic batch is always fresh.
// Returns false when the batch is stale.
func (v *Validator) checkFreshness(src domain.Source, records []domain.Record, out *Outcome) bool {
	allSynthetic := true
	var newest time.Time
	for _, r := range records {
		if r.Provenance() != domain.ProvenanceSynthetic {
			allSynthetic = false
		}
		if r.Timestamp().After(newest) {
			newest = r.Timestamp()
		}
	}
	if allSynthetic {
		return true
	}

	threshold := stalenessThreshold(src)
	age := domain.Now().Sub(newest)
	if age <= threshold {
		return true
	}
	out.Warnings = append(out.Warnings,
		fmt.Sprintf("%s batch is stale: newest record %s is %s old (threshold %s)",
			src, newest.Format(time.RFC3339), age.Round(time.Minute), threshold))
	return false
}

// score combines the four checks with the configured weights. Accepted
// records have passed accuracy by definition; freshness is evaluated per
// record against the source threshold. A synthetic record's score is capped
// by its tier, placing each tier in a distinct band below live data.
func (v *Validator) score(src domain.Source, r domain.Record, completeness, consistency float64) float64 {
	freshness := 1.0
	if r.Provenance() != domain.ProvenanceSynthetic &&
		domain.Now().Sub(r.Timestamp()) > stalenessThreshold(src) {
		freshness = 0
	}

	score := v.weights.Freshness*freshness +
		v.weights.Completeness*completeness +
		v.weights.Accuracy*1.0 +
		v.weights.Consistency*consistency

	if r.Provenance() == domain.ProvenanceSynthetic {
		if syn, ok := r.(interface{ SyntheticTier() domain.SyntheticTier }); ok {
			score *= syn.SyntheticTier().QualityFactor()
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
