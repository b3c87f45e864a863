package sales

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the business context appended to the system prompt.
type Rules struct {
	CurrencySymbol string   `yaml:"currency_symbol"`
	CurrencyName   string   `yaml:"currency_name"`
	Rules          []string `yaml:"rules"`
	Relationships  []string `yaml:"relationships"`
	Patterns       []string `yaml:"patterns"`
}

// DefaultRules describes the sales domain shipped with the service.
func DefaultRules() Rules {
	return Rules{
		CurrencySymbol: "₹",
		CurrencyName:   "Indian Rupees",
		Rules: []string{
			`"Sales" and "revenue" always refer to total_amount, never quantity`,
			"Cancelled and refunded orders must NEVER be included in sales/revenue figures",
			`"Active orders" means orders with status = 'pending' or 'completed'`,
			`"Top products" means ORDER BY SUM(quantity) DESC or SUM(total_price) DESC`,
		},
		Relationships: []string{
			"sales_order_item.order_id -> sales_order.id",
			"sales_order_item.product_id -> sales_product.id",
		},
		Patterns: []string{
			"Total sales for a period: SELECT SUM(total_amount) FROM sales_order WHERE status='completed' AND <date condition>",
			"Order count: SELECT COUNT(*) FROM sales_order WHERE <conditions>",
			"Top products: SELECT p.name, SUM(oi.quantity) as units_sold FROM sales_order_item oi JOIN sales_product p ON oi.product_id = p.id GROUP BY p.id, p.name ORDER BY units_sold DESC LIMIT 10",
			"Sales by category: SELECT p.category, SUM(oi.total_price) as revenue FROM sales_order_item oi JOIN sales_product p ON oi.product_id = p.id JOIN sales_order o ON oi.order_id = o.id WHERE o.status='completed' GROUP BY p.category",
		},
	}
}

// LoadRules reads a YAML rules file. An empty path yields DefaultRules;
// sections missing from the file keep their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if override.CurrencySymbol != "" {
		rules.CurrencySymbol = override.CurrencySymbol
	}
	if override.CurrencyName != "" {
		rules.CurrencyName = override.CurrencyName
	}
	if len(override.Rules) > 0 {
		rules.Rules = override.Rules
	}
	if len(override.Relationships) > 0 {
		rules.Relationships = override.Relationships
	}
	if len(override.Patterns) > 0 {
		rules.Patterns = override.Patterns
	}
	return rules, nil
}

// Render formats the rules as a prompt block.
func (r Rules) Render() string {
	var b strings.Builder

	b.WriteString("BUSINESS RULES:\n")
	for _, rule := range r.Rules {
		b.WriteString("- " + rule + "\n")
	}
	if r.CurrencySymbol != "" {
		fmt.Fprintf(&b, "- All monetary values are in %s (%s). Always use the %s symbol, never $\n",
			r.CurrencyName, r.CurrencySymbol, r.CurrencySymbol)
	}

	if len(r.Relationships) > 0 {
		b.WriteString("\nTABLE RELATIONSHIPS:\n")
		for _, rel := range r.Relationships {
			b.WriteString("- " + rel + "\n")
		}
	}

	if len(r.Patterns) > 0 {
		b.WriteString("\nCOMMON PATTERNS:\n")
		for _, p := range r.Patterns {
			b.WriteString("- " + p + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
