package isbndb

import (
	"fmt"
	"strings"
	"time"
)

// Plan is an ISBNdb subscription tier. The tier decides both the API
// host and how hard we are allowed to hit it.
type Plan string

const (
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
	PlanPro     Plan = "pro"
)

// ParsePlan validates a plan name from flags/config.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(s)); p {
	case PlanBasic, PlanPremium, PlanPro:
		return p, nil
	case "":
		return PlanBasic, nil
	default:
		return "", fmt.Errorf("unknown ISBNdb plan %q (expected basic, premium or pro)", s)
	}
}

// BaseURL returns the API host for the plan.
func (p Plan) BaseURL() string {
	switch p {
	case PlanPremium:
		return "https://api.premium.isbndb.com"
	case PlanPro:
		return "https://api.pro.isbndb.com"
	default:
		return "https://api2.isbndb.com"
	}
}

// Interval returns the minimum spacing between requests the plan
// allows: 1, 3 or 5 requests per second.
func (p Plan) Interval() time.Duration {
	switch p {
	case PlanPremium:
		return time.Second / 3
	case PlanPro:
		return time.Second / 5
	default:
		return time.Second
	}
}
