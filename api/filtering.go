package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sentinel/core"
)

const maxListLimit = 1000

// ParseAlertFilters extracts alert filtering parameters from the query string.
// Severity and status accept repeated or comma-separated values.
func ParseAlertFilters(r *http.Request) (*core.AlertFilters, error) {
	q := r.URL.Query()
	filters := &core.AlertFilters{
		Search:   strings.TrimSpace(q.Get("search")),
		Hostname: strings.TrimSpace(q.Get("host")),
		EventID:  strings.TrimSpace(q.Get("event_id")),
	}

	limit, err := parseLimit(q, 0)
	if err != nil {
		return nil, err
	}
	filters.Limit = limit

	for _, raw := range splitMulti(q["severity"]) {
		sev, err := core.ParseSeverity(raw)
		if err != nil {
			return nil, err
		}
		filters.Severities = append(filters.Severities, sev)
	}

	if raw := q.Get("min_severity"); raw != "" {
		sev, err := core.ParseSeverity(raw)
		if err != nil {
			return nil, core.NewValidationError("min_severity", fmt.Sprintf("invalid severity %q", raw))
		}
		filters.MinSeverity = sev
	}

	for _, raw := range splitMulti(q["status"]) {
		status := core.AlertStatus(strings.ToUpper(raw))
		if !status.IsValid() {
			return nil, core.NewValidationError("status", fmt.Sprintf("invalid status %q", raw))
		}
		filters.Statuses = append(filters.Statuses, status)
	}

	return filters, nil
}

// parseLimit reads ?limit=, capped at maxListLimit. Zero means no limit.
func parseLimit(q url.Values, def int) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, core.NewValidationError("limit", "must be a non-negative integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
