package activities

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/run"
)

const defaultQualityThreshold = 0.7

// EvaluateDraft scores a draft with a fast lexical heuristic. It makes no
// external calls, so repeated evaluation of the same draft is stable.
// Dimensions are coverage (query terms addressed), grounding (sources
// reflected in the draft), and structure; overall is their mean. The
// decision is exactly one of approve, revise, or need_more_data.
func (a *Activities) EvaluateDraft(ctx context.Context, in EvaluateDraftInput) (EvaluateDraftResult, error) { // nolint:revive
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = defaultQualityThreshold
	}

	draft := strings.TrimSpace(in.Draft)
	if len(draft) < 40 {
		res := EvaluateDraftResult{
			Scores:   map[string]float64{"coverage": 0.2, "grounding": 0.2, "structure": 0.2, "overall": 0.2},
			Decision: DecisionRevise,
			Feedback: "The draft is too short or empty; write a substantive answer.",
		}
		if in.AllowMoreData && len(in.Context) == 0 {
			res.Decision = DecisionNeedMoreData
			res.Feedback = "Nothing substantive to score and no sources retrieved; gather material first."
		}
		metrics.RecordEvaluation(res.Decision, res.Scores)
		return res, nil
	}

	draftLower := strings.ToLower(draft)
	coverage := scoreCoverage(in.Query, draftLower)
	grounding := scoreGrounding(in.Context, draftLower)
	structure := scoreStructure(draft)
	overall := (coverage + grounding + structure) / 3

	scores := map[string]float64{
		"coverage":  coverage,
		"grounding": grounding,
		"structure": structure,
		"overall":   overall,
	}

	res := EvaluateDraftResult{Scores: scores}
	switch {
	case overall >= threshold:
		res.Decision = DecisionApprove
		res.Feedback = "Meets the quality bar."
	case in.AllowMoreData && grounding < 0.5 && len(in.Context) == 0:
		res.Decision = DecisionNeedMoreData
		res.Feedback = "The draft is not backed by any sources; retrieve supporting material."
	default:
		res.Decision = DecisionRevise
		res.Feedback = reviseFeedback(coverage, grounding, structure)
	}

	metrics.RecordEvaluation(res.Decision, scores)
	a.logger.Debug("Draft evaluated",
		zap.String("run_id", in.RunID),
		zap.Float64("overall", overall),
		zap.String("decision", res.Decision))
	return res, nil
}

// scoreCoverage measures the share of significant query terms that appear
// in the draft. A query with no significant terms scores neutral.
func scoreCoverage(query, draftLower string) float64 {
	terms := significantTerms(query)
	if len(terms) == 0 {
		return 0.7
	}
	hit := 0
	for _, t := range terms {
		if strings.Contains(draftLower, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// scoreGrounding measures the share of source records the draft reflects,
// matching on significant title terms. No sources scores low so the
// decision can ask for more data.
func scoreGrounding(records []run.SourceRecord, draftLower string) float64 {
	if len(records) == 0 {
		return 0.3
	}
	measurable, hit := 0, 0
	for _, rec := range records {
		terms := significantTerms(rec.Title)
		if len(terms) == 0 {
			continue
		}
		measurable++
		for _, t := range terms {
			if strings.Contains(draftLower, t) {
				hit++
				break
			}
		}
	}
	if measurable == 0 {
		return 0.6
	}
	return float64(hit) / float64(measurable)
}

// scoreStructure rewards multi-paragraph or list-shaped drafts.
func scoreStructure(draft string) float64 {
	paragraphs := 0
	for _, p := range strings.Split(draft, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	hasList := strings.Contains(draft, "\n- ") || strings.Contains(draft, "\n* ") || strings.Contains(draft, "\n1. ")
	switch {
	case paragraphs >= 2 || hasList:
		return 1.0
	case len(draft) >= 400:
		return 0.7
	default:
		return 0.4
	}
}

func reviseFeedback(coverage, grounding, structure float64) string {
	var points []string
	if coverage < 0.7 {
		points = append(points, "address the parts of the question the draft skips")
	}
	if grounding < 0.7 {
		points = append(points, "tie claims back to the retrieved sources")
	}
	if structure < 0.7 {
		points = append(points, "organize the answer into clear sections")
	}
	if len(points) == 0 {
		points = append(points, "tighten the weakest sections")
	}
	return "Revise: " + strings.Join(points, "; ") + "."
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "does": {}, "how": {},
	"why": {}, "are": {}, "was": {}, "were": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "about": {}, "from": {}, "into": {}, "their": {},
	"there": {}, "them": {}, "than": {}, "then": {}, "have": {}, "has": {},
}

// significantTerms lowercases, strips punctuation, and drops short words
// and stopwords, deduplicating while preserving order.
func significantTerms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) <= 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
