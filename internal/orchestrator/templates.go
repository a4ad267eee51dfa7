package orchestrator

import "fmt"

// templatePair holds the system and user prompt templates for one analysis
// type. %s is substituted with the (trimmed) input.
type templatePair struct {
	system string
	user   string
}

var templates = map[AnalysisType]templatePair{
	AnalysisDocument: {
		system: "You are a document analysis assistant. Summarize and extract key points from the supplied text.",
		user:   "Analyze the following document:\n\n%s",
	},
	AnalysisChat: {
		system: "You are a conversational assistant. Continue the dialog naturally and helpfully.",
		user:   "%s",
	},
	AnalysisSEO: {
		system: "You are an SEO specialist. Evaluate the supplied content for search-engine optimization opportunities.",
		user:   "Review this content for SEO:\n\n%s",
	},
	AnalysisCrypto: {
		system: "You are a cryptocurrency market analyst. Evaluate the supplied content for trading signals and risk factors.",
		user:   "Analyze this crypto-related input:\n\n%s",
	},
}

var genericTemplate = templatePair{
	system: "You are a general-purpose analysis assistant.",
	user:   "%s",
}

// templateFor returns the (system, user) prompt pair for analysisType,
// substituting input into the user template. Unknown types resolve to the
// generic fallback rather than erroring (spec.md §4.7).
func templateFor(analysisType AnalysisType, input string) (system, user string) {
	pair, ok := templates[analysisType]
	if !ok {
		pair = genericTemplate
	}
	return pair.system, fmt.Sprintf(pair.user, input)
}
