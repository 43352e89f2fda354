package retrieval

// Topic is one fixed report query.
type Topic struct {
	Name  string
	Query string
}

// ReportTopics are the queries ReportContext runs, in report order.
var ReportTopics = []Topic{
	{Name: "financial_performance", Query: "revenue earnings profit margin EPS financial performance"},
	{Name: "balance_sheet", Query: "total assets liabilities stockholders equity cash debt balance sheet"},
	{Name: "cash_flow", Query: "operating cash flow capital expenditures free cash flow liquidity"},
	{Name: "risk_factors", Query: "risk factors uncertainties competition regulation litigation"},
	{Name: "outlook", Query: "management outlook guidance strategy growth plans"},
}
