package engine

// namedCondition is the closed set of predicate names the edge
// evaluator recognizes (spec §4.4.4 and §9: "keep it a closed
// enumeration so unknown names fail fast; do not attempt to evaluate
// arbitrary expressions"). Anything outside this set evaluates to
// false.
type namedCondition string

const (
	condQualitySufficient   namedCondition = "quality_sufficient"
	condQualityInsufficient namedCondition = "quality_insufficient"
	condHighConfidence      namedCondition = "high_confidence"
	condLowConfidence       namedCondition = "low_confidence"
	condEvidenceSufficient  namedCondition = "evidence_sufficient"
	condEvidenceInsufficient namedCondition = "evidence_insufficient"
)

// evaluateCondition runs a single named condition over the execution's
// accumulated node results. Unknown names return false; the second
// result reports whether the name was recognized. shouldTraverse
// ignores that second result, so no warning is emitted for an unknown
// name.
func evaluateCondition(results map[string]NodeResult, name string) (bool, bool) {
	switch namedCondition(name) {
	case condQualitySufficient:
		return qualityScore(results) >= 0.7, true
	case condQualityInsufficient:
		return qualityScore(results) < 0.7, true
	case condHighConfidence:
		avg, has := meanConfidenceIfAny(results)
		return has && avg >= 0.8, true
	case condLowConfidence:
		avg, has := meanConfidenceIfAny(results)
		return !has || avg < 0.8, true
	case condEvidenceSufficient:
		total, maxQ := evidenceStats(results)
		return total >= 3 && maxQ >= 0.6, true
	case condEvidenceInsufficient:
		total, maxQ := evidenceStats(results)
		return !(total >= 3 && maxQ >= 0.6), true
	default:
		return false, false
	}
}

// qualityScore averages confidence and completeness across TASK results,
// defaulting missing values to 0.5 per spec (and to 0.5 overall when no
// TASK result exists yet).
func qualityScore(results map[string]NodeResult) float64 {
	var confSum, compSum float64
	var count int
	for _, r := range results {
		if r.Task == nil {
			continue
		}
		confSum += r.Confidence()
		compSum += r.Completeness()
		count++
	}
	if count == 0 {
		return (0.5 + 0.5) / 2
	}
	n := float64(count)
	avgConfidence := confSum / n
	avgCompleteness := compSum / n
	return (avgConfidence + avgCompleteness) / 2
}

// meanConfidenceIfAny averages confidence only over TASK results that
// actually carry a confidence value; the second return is false if no
// such result exists (high_confidence/low_confidence's stated behavior).
func meanConfidenceIfAny(results map[string]NodeResult) (float64, bool) {
	var sum float64
	var n int
	for _, r := range results {
		if r.Task != nil && r.Task.Confidence != nil {
			sum += *r.Task.Confidence
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func evidenceStats(results map[string]NodeResult) (total int, maxQuality float64) {
	for _, r := range results {
		total += len(r.Evidence())
		if q := r.EvidenceQuality(); q > maxQuality {
			maxQuality = q
		}
	}
	return total, maxQuality
}

// evaluateDecisionConditions evaluates a DECISION/CONDITION node's own
// `conditions` map (spec §4.4.4): each recognized key is compared
// against an aggregate over node_results, and every comparison must
// pass.
func evaluateDecisionConditions(results map[string]NodeResult, conditions map[string]float64) bool {
	if len(conditions) == 0 {
		return true
	}
	for key, threshold := range conditions {
		switch key {
		case "min_confidence":
			avg, _ := meanConfidenceOrDefault(results)
			if avg < threshold {
				return false
			}
		case "min_sources":
			if float64(totalSources(results)) < threshold {
				return false
			}
		case "completeness_threshold":
			if meanCompleteness(results) < threshold {
				return false
			}
		}
	}
	return true
}

func meanConfidenceOrDefault(results map[string]NodeResult) (float64, bool) {
	if len(results) == 0 {
		return 0.5, false
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence()
	}
	return sum / float64(len(results)), true
}

func meanCompleteness(results map[string]NodeResult) float64 {
	if len(results) == 0 {
		return 0.5
	}
	var sum float64
	for _, r := range results {
		sum += r.Completeness()
	}
	return sum / float64(len(results))
}

func totalSources(results map[string]NodeResult) int {
	var total int
	for _, r := range results {
		total += len(r.Sources())
	}
	return total
}
