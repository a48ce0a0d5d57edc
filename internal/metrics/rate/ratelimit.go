// Package rate reports rate limit pressure observed on the exchange REST and
// websocket endpoints.
package rate

import (
	"fmt"
	"strings"

	"bookflow/logger"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter for the
// given endpoint. Product and endpoint are attached to the log entry.
func ReportRateLimitExceeded(log *logger.Log, product, endpoint string) {
	component := fmt.Sprintf("coinbase_%s", strings.ToLower(endpoint))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"product":  product,
		"endpoint": strings.ToLower(endpoint),
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan increments the IP ban counter for the given endpoint. Product
// and endpoint are attached to the log entry.
func ReportIPBan(log *logger.Log, product, endpoint string) {
	component := fmt.Sprintf("coinbase_%s", strings.ToLower(endpoint))
	l := log.WithComponent(component)
	fields := logger.Fields{
		"product":  product,
		"endpoint": strings.ToLower(endpoint),
	}
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// DetectLimit inspects an error message returned by the exchange and reports
// whether it signals a rate limit exceed or an IP ban. Coinbase phrases public
// and private limits differently so matching stays keyword based.
func DetectLimit(msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	ipBan = strings.Contains(lowerMsg, "ip") &&
		(strings.Contains(lowerMsg, "ban") || strings.Contains(lowerMsg, "blocked"))
	rateLimit = !ipBan &&
		(strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests"))
	return
}

// ReportLimitFromMessage checks the provided message for rate limit or IP ban
// wording and records the appropriate metrics. No action is taken if the
// message does not match any known patterns.
func ReportLimitFromMessage(log *logger.Log, product, endpoint, msg string) {
	rateLimit, ipBan := DetectLimit(msg)
	if rateLimit {
		ReportRateLimitExceeded(log, product, endpoint)
	}
	if ipBan {
		ReportIPBan(log, product, endpoint)
	}
}
