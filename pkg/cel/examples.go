package cel

// FilterExpressionExamples are printed by `rabbit-tail --examples`.
var FilterExpressionExamples = map[string]string{
	"simple_equals":      `content.status == "active"`,
	"numeric_comparison": `content.amount > 100`,
	"string_contains":    `content.email.contains("@example.com")`,
	"in_list":            `content.status in ["active", "pending"]`,
	"nested_field":       `content.user.tier == "premium"`,
	"has_field":          `has(content.email) && content.email != ""`,
	"routing_key":        `routingKey.startsWith("orders.")`,
	"header":             `has(headers.tenant) && headers.tenant == "acme"`,
	"content_type":       `properties.contentType == "application/json"`,
}
