package quality

import (
	"context"
	"strings"
)

type tableEntry struct {
	value     string
	rationale string
}

// suggestionTable is keyed "cde_<domain>" or "noncde_<domain>" with the domain
// in lower case.
var suggestionTable = map[string]map[string]tableEntry{
	"cde_credits": {
		DimCompleteness: {"≥ 99.9%", "Critical element in regulatory credit reporting; missing values force a restatement."},
		DimAccuracy:     {"Reconcile GL ± 0.05%", "Feeds capital and provisioning figures reconciled to the general ledger."},
		DimTimeliness:   {"T+1 by 07:00 CET", "Credit risk engine batch closes before the morning reporting run."},
		DimConsistency:  {"Identical across regulatory templates", "The same value is reported in several templates and must agree."},
		DimValidity:     {"Valid against reference data", "Codes must resolve in the governed reference lists."},
	},
	"noncde_credits": {
		DimCompleteness: {"≥ 97%", "Supporting credit attribute; small gaps are tolerable."},
		DimAccuracy:     {"Reconcile GL ± 0.5%", "Analytical use only, looser reconciliation tolerance."},
		DimTimeliness:   {"T+1 by 07:00 CET", "Delivered with the credit risk engine batch."},
	},
	"cde_consumer": {
		DimCompleteness: {"≥ 99.5%", "Drives retail provisioning segments."},
		DimAccuracy:     {"Sample audit ≤ 0.1% error", "High-volume retail data is checked by sampling."},
		DimTimeliness:   {"Daily by 06:00 CET", "Retail systems deliver a daily snapshot."},
		DimValidity:     {"Format and range checks pass", "Customer-entered data needs syntactic validation."},
	},
	"noncde_consumer": {
		DimCompleteness: {"≥ 95%", "Supporting retail attribute."},
		DimTimeliness:   {"Daily by 06:00 CET", "Retail systems deliver a daily snapshot."},
	},
	"cde_markets": {
		DimCompleteness: {"≥ 99.9%", "Trading book positions must be complete for market risk capital."},
		DimAccuracy:     {"Independent price verification ± 0.1%", "Valuations are verified independently of the front office."},
		DimTimeliness:   {"T+1 by 08:00 CET", "Market risk engine runs after end-of-day pricing."},
		DimConsistency:  {"Front-to-back identical", "Front office and risk systems must hold the same trade attributes."},
	},
	"noncde_markets": {
		DimCompleteness: {"≥ 97%", "Supporting markets attribute."},
		DimTimeliness:   {"T+1 by 08:00 CET", "Delivered with the market risk batch."},
	},
}

const fallbackTableKey = "noncde_credits"

// TableOracle answers from a fixed table keyed by CDE flag and domain. It is
// used when no model endpoint is configured.
type TableOracle struct{}

// NewTableOracle creates the table oracle.
func NewTableOracle() *TableOracle {
	return &TableOracle{}
}

// Name identifies the oracle in SuggestedBy.
func (o *TableOracle) Name() string {
	return "table"
}

// Suggest returns the table entries for the requested dimensions. Unknown
// domains fall back to the non-CDE credits row.
func (o *TableOracle) Suggest(ctx context.Context, req Request) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, ok := suggestionTable[tableKey(req.IsCDE, req.Domain)]
	if !ok {
		row = suggestionTable[fallbackTableKey]
	}

	out := make([]Suggestion, 0, len(req.Dimensions))
	for _, dim := range req.Dimensions {
		if e, ok := row[dim]; ok {
			out = append(out, Suggestion{Dimension: dim, Value: e.value, Rationale: e.rationale})
		}
	}
	return out, nil
}

func tableKey(isCDE bool, domain string) string {
	if domain == "" {
		domain = "credits"
	}
	prefix := "noncde_"
	if isCDE {
		prefix = "cde_"
	}
	return prefix + strings.ToLower(domain)
}
