// Package canonical produces the deterministic byte form of an invoice used
// as hash and signature input.
//
// Rules:
//   - keys ordered alphabetically (json.Marshal of a map)
//   - monetary amounts as strings with exactly 2 decimals, dot separator
//   - strings trimmed and NFC-normalized
//   - lines sorted by description
//   - volatile fields (ids, timestamps) excluded
//   - compact JSON, UTF-8
package canonical

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	domain "github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize serializes the invoice plus denormalized issuer and recipient
// identity into a byte-stable form. The same logical content always produces
// identical bytes, independent of field construction order.
func Canonicalize(inv *domain.Invoice, company *domain.Company, client *domain.Client) ([]byte, error) {
	if company == nil || strings.TrimSpace(company.TaxID) == "" {
		return nil, &domain.CanonicalizationError{Field: "company.tax_id"}
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return nil, &domain.CanonicalizationError{Field: "invoice_number"}
	}
	if len(inv.Lines) == 0 {
		return nil, &domain.CanonicalizationError{Field: "lines"}
	}

	doc := map[string]any{
		"baseAmount":    money(inv.BaseAmount()),
		"companyName":   normalize(company.Name),
		"companyTaxId":  normalize(company.TaxID),
		"companyCity":   normalize(company.City),
		"companyZip":    normalize(company.PostalCode),
		"companyAddr":   normalize(company.Address),
		"currency":      normalize(inv.Currency),
		"invoiceNumber": normalize(inv.InvoiceNumber),
		"issueDate":     inv.IssueDate.UTC().Format(time.RFC3339),
		"totalAmount":   money(inv.TotalAmount()),
		"vatTotal":      money(inv.VATTotal()),
	}
	if client != nil {
		doc["clientName"] = normalize(client.Name)
		doc["clientTaxId"] = normalize(client.TaxID)
		doc["clientCity"] = normalize(client.City)
		doc["clientZip"] = normalize(client.PostalCode)
		doc["clientAddr"] = normalize(client.Address)
	}
	if strings.TrimSpace(inv.Notes) != "" {
		doc["notes"] = normalize(inv.Notes)
	}

	lines := make([]domain.InvoiceLine, len(inv.Lines))
	copy(lines, inv.Lines)
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Description < lines[j].Description
	})

	items := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		items = append(items, map[string]any{
			"description": normalize(l.Description),
			"quantity":    money(l.Quantity),
			"unitPrice":   money(l.UnitPrice),
			"discountPct": money(l.DiscountPct),
			"vatRate":     money(l.VATRate),
			"base":        money(l.TaxableBase()),
			"total":       money(l.Total()),
		})
	}
	doc["items"] = items

	// json.Marshal emits map keys in sorted order with no whitespace, which
	// gives the byte-stable form directly.
	return json.Marshal(doc)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
