// Package intent classifies natural-language queries into response types.
//
// Classification is rule driven: an ordered table of regular-expression
// pattern sets, one per response type. The type with the most matching
// patterns wins; ties break by table order. Classification never fails,
// a query with no matches only gets a lower-confidence default.
package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// ResponseType is the kind of response a query expects.
type ResponseType string

const (
	Conversational ResponseType = "conversational"
	DataQuery      ResponseType = "data_query"
	Visualization  ResponseType = "visualization"
	Map            ResponseType = "map"
	Summary        ResponseType = "summary"
	Comparison     ResponseType = "comparison"
	Help           ResponseType = "help"
)

// VizType is the chart kind suggested for visualization and map intents.
type VizType string

const (
	VizLine    VizType = "line"
	VizBar     VizType = "bar"
	VizScatter VizType = "scatter"
	VizHeatmap VizType = "heatmap"
	VizPie     VizType = "pie"
	Viz3D      VizType = "3d"
	VizMap     VizType = "map"
)

// Result is the outcome of classifying one query.
type Result struct {
	ResponseType ResponseType `json:"response_type"`
	Confidence   float64      `json:"confidence"`
	Reasoning    string       `json:"reasoning"`
	VizType      VizType      `json:"visualization_type,omitempty"`
	RequiresData bool         `json:"requires_data"`
}

// rule pairs a response type with its pattern set. Table order is
// load-bearing: it decides ties and the fallback iteration order.
type rule struct {
	responseType ResponseType
	patterns     []*regexp.Regexp
}

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// intentRules is the ordered classification table.
var intentRules = []rule{
	{Conversational, mustCompileAll(
		`^(hi|hello|hey|thanks|thank you|ok|okay|good|great|awesome|cool)$`,
		`^(how are you|what.*your name|who are you)$`,
		`^(bye|goodbye|see you|talk.*later)$`,
		`^\w{1,10}$`,
	)},
	{DataQuery, mustCompileAll(
		`(show|display|find|get|fetch|retrieve|list|give me).*\b(data|measurements|values|records|results)\b`,
		`(temperature|salinity|pressure|depth).*\b(from|in|at|of)\b`,
		`(how many|count|number of).*\b(floats|profiles|measurements)\b`,
		`(what|which).*\b(temperature|salinity|pressure)\b`,
		`(average|mean|max|maximum|min|minimum).*\b(temperature|salinity|pressure)\b`,
	)},
	{Visualization, mustCompileAll(
		`\b(plot|graph|chart|visualize|draw)\b`,
		`\b(line chart|bar chart|scatter plot|histogram|pie chart)\b`,
		`\b(trend|trends|over time|time series)\b`,
		`\b(1d|2d|3d|one dimension|two dimension|three dimension)\b`,
		`(show.*trend|plot.*against|graph.*vs|chart.*over)`,
		`(correlation|relationship|pattern).*\b(between|of)\b`,
	)},
	{Map, mustCompileAll(
		`\b(map|location|geographic|spatial|coordinate)\b`,
		`\b(where|location|position|near|around|close to)\b`,
		`\b(latitude|longitude|lat|lon|coordinates)\b`,
		`(show.*map|plot.*map|display.*location)`,
		`(near|around|close to|within.*km|within.*miles)`,
	)},
	{Summary, mustCompileAll(
		`\b(summary|summarize|overview|statistics|stats)\b`,
		`\b(total|overall|general|aggregate)\b`,
		`(what.*overall|give.*summary|provide.*overview)`,
		`(describe|explain).*\b(data|dataset|measurements)\b`,
	)},
	{Comparison, mustCompileAll(
		`\b(compare|comparison|vs|versus|difference|differences)\b`,
		`\b(higher|lower|greater|less|more|better|worse)\b.*\b(than|compared to)\b`,
		`(which.*better|which.*higher|which.*more)`,
		`(float.*vs.*float|region.*vs.*region)`,
	)},
	{Help, mustCompileAll(
		`\b(help|how|what can|capabilities|features)\b`,
		`(how to|how do|what does|can you)`,
		`(instructions|guide|tutorial|example)`,
	)},
}

// dataRequiringPatterns is independent of response type: a conversational
// query can still require data and vice versa.
var dataRequiringPatterns = mustCompileAll(
	`\b(temperature|salinity|pressure|depth|measurement)\b`,
	`\b(float|profile|cycle|data)\b`,
	`\b(show|display|find|plot|chart|map)\b`,
	`\b(average|mean|max|min|count|total)\b`,
)

type vizRule struct {
	vizType  VizType
	patterns []*regexp.Regexp
}

var vizRules = []vizRule{
	{VizLine, mustCompileAll(`\b(line|trend|time series|over time)\b`)},
	{VizBar, mustCompileAll(`\b(bar|column|histogram|frequency)\b`)},
	{VizScatter, mustCompileAll(`\b(scatter|correlation|relationship|plot.*vs)\b`)},
	{VizHeatmap, mustCompileAll(`\b(heatmap|heat map|density|intensity)\b`)},
	{VizPie, mustCompileAll(`\b(pie|percentage|proportion|distribution)\b`)},
	{Viz3D, mustCompileAll(`\b(3d|three dimension|surface|contour)\b`)},
}

// Turn is the minimal shape of a history entry the classifier accepts.
// History is currently advisory only and does not influence scoring.
type Turn struct {
	Role    string
	Message string
}

// Classifier analyzes queries against the rule tables. The zero value is
// ready to use.
type Classifier struct{}

// NewClassifier returns a ready Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify determines the response type for a query. It never returns an
// error: unmatched input falls back to conversational for short queries
// that need no data, otherwise to data_query.
func (c *Classifier) Classify(query string, history []Turn) Result {
	_ = history

	q := strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		score    int
		patterns []string
	}
	scores := make(map[ResponseType]scored, len(intentRules))

	for _, r := range intentRules {
		var s scored
		for _, p := range r.patterns {
			if p.MatchString(q) {
				s.score++
				s.patterns = append(s.patterns, p.String())
			}
		}
		if s.score > 0 {
			scores[r.responseType] = s
		}
	}

	var (
		primary    ResponseType
		confidence float64
	)
	if len(scores) == 0 {
		if len(strings.Fields(q)) <= 3 && !anyMatch(dataRequiringPatterns, q) {
			primary, confidence = Conversational, 0.7
		} else {
			primary, confidence = DataQuery, 0.5
		}
	} else {
		// Highest score wins; iterate in table order so ties break
		// deterministically by declaration order.
		best := -1
		for _, r := range intentRules {
			if s, ok := scores[r.responseType]; ok && s.score > best {
				best = s.score
				primary = r.responseType
			}
		}
		confidence = min(0.9, 0.3+float64(best)*0.2)
	}

	// A comparison phrased with chart vocabulary is really a chart request.
	_, sawViz := scores[Visualization]
	if primary == Comparison && sawViz {
		primary = Visualization
		confidence += 0.1
	}

	requiresData := anyMatch(dataRequiringPatterns, q)

	var vizType VizType
	switch primary {
	case Visualization:
		for _, vr := range vizRules {
			if anyMatch(vr.patterns, q) {
				vizType = vr.vizType
				break
			}
		}
		if vizType == "" {
			if _, sawComparison := scores[Comparison]; sawComparison {
				vizType = VizScatter
			} else {
				vizType = VizLine
			}
		}
	case Map:
		vizType = VizMap
	}

	winner, matched := scores[primary]
	reasoning := reasoningFor(primary, matched, winner.score, winner.patterns)

	return Result{
		ResponseType: primary,
		Confidence:   clamp01(confidence),
		Reasoning:    reasoning,
		VizType:      vizType,
		RequiresData: requiresData,
	}
}

func reasoningFor(rt ResponseType, matched bool, score int, patterns []string) string {
	if !matched {
		return fmt.Sprintf("Defaulted to %s based on query structure", rt)
	}
	if len(patterns) > 2 {
		patterns = patterns[:2]
	}
	return fmt.Sprintf("Detected %s intent (confidence: %d) based on patterns: %s",
		rt, score, strings.Join(patterns, ", "))
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
