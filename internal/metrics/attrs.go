package metrics

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func routeAttr(route string) attribute.KeyValue       { return attribute.String("route", route) }
func statusAttr(status int) attribute.KeyValue        { return attribute.String("status", strconv.Itoa(status)) }
func stageAttr(stage string) attribute.KeyValue       { return attribute.String("stage", stage) }
func providerAttr(provider string) attribute.KeyValue { return attribute.String("provider", provider) }
func outcomeAttr(outcome string) attribute.KeyValue   { return attribute.String("outcome", outcome) }
func scopeAttr(scope string) attribute.KeyValue       { return attribute.String("scope", scope) }
