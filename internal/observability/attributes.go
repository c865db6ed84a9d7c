// Package observability provides metrics and logging setup.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrRoute    = "route"
	attrStatus   = "status"
	attrStrategy = "strategy"
	attrOp       = "op"
	attrFailed   = "failed"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String(attrRoute, normalizeRoute(route))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func strategyAttr(strategy string) attribute.KeyValue {
	return attribute.String(attrStrategy, strategy)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func failedAttr(failed bool) attribute.KeyValue {
	return attribute.Bool(attrFailed, failed)
}

// normalizeRoute keeps unmatched request paths out of the label space.
// Routes are router patterns such as /alpha/jobs/{cluster}/{role}.
func normalizeRoute(route string) string {
	if route == "" {
		return "unmatched"
	}
	return route
}

func strategyOp(strategy, op string) metric.MeasurementOption {
	return metric.WithAttributes(strategyAttr(strategy), opAttr(op))
}
