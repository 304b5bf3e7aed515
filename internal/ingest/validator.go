package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

// DateLayout is the invoice date format the extraction model is asked for.
const DateLayout = "02.01.2006"

// Kategorien is the closed set of invoice categories.
var Kategorien = []string{
	"Reparatur",
	"Ersatzteile",
	"TÜV/HU/AU",
	"Reifen",
	"Tanken",
	"Miete",
	"Wartung",
	"Versicherung",
	"Sonstiges",
}

var kategorieSet = func() map[string]bool {
	m := make(map[string]bool, len(Kategorien))
	for _, k := range Kategorien {
		m[k] = true
	}
	return m
}()

// Fleet plate formats. An empty truck field is allowed: not every invoice
// names a vehicle.
var truckPattern = regexp.MustCompile(`^(GR-OO\d+|HH-AG\d+|DE-FN\d+|WJQY\d+|OHAMX\d+)?$`)

// Validate checks one extracted invoice and returns every problem found.
// An empty slice means the record is safe to enrich and insert.
func Validate(inv ExtractedInvoice, now time.Time) []string {
	var problems []string

	if strings.TrimSpace(inv.InvoiceNr) == "" {
		problems = append(problems, "missing invoice_nr")
	}
	if strings.TrimSpace(inv.Seller) == "" {
		problems = append(problems, "missing seller")
	}

	if inv.InvoiceDate == "" {
		problems = append(problems, "missing invoice_date")
	} else if dt, err := time.Parse(DateLayout, inv.InvoiceDate); err != nil {
		problems = append(problems, fmt.Sprintf("bad date format: %s", inv.InvoiceDate))
	} else if dt.After(now) {
		problems = append(problems, fmt.Sprintf("date in future: %s", inv.InvoiceDate))
	}

	if inv.Truck != "" && !truckPattern.MatchString(inv.Truck) {
		problems = append(problems, fmt.Sprintf("bad truck format: %s", inv.Truck))
	}

	if inv.Kategorie != "" && !kategorieSet[inv.Kategorie] {
		problems = append(problems, fmt.Sprintf("unknown kategorie: %s", inv.Kategorie))
	}

	if inv.TotalPrice == 0 {
		problems = append(problems, "total_price is zero")
	}

	return problems
}

// Enrich turns a validated extraction into an insertable invoice row.
// Year, month and ISO week are always derived from the parsed date, never
// taken from the model, and is_gutschrift follows the sign of the total.
func Enrich(inv ExtractedInvoice) (*store.Invoice, error) {
	dt, err := time.Parse(DateLayout, inv.InvoiceDate)
	if err != nil {
		return nil, fmt.Errorf("parse invoice date %q: %w", inv.InvoiceDate, err)
	}
	dt = dt.UTC()
	_, week := dt.ISOWeek()

	return &store.Invoice{
		InvoiceYear:  int16(dt.Year()),
		InvoiceMonth: int16(dt.Month()),
		InvoiceWeek:  int16(week),
		InvoiceDate:  dt,
		Truck:        strings.TrimSpace(inv.Truck),
		TotalPrice:   round2(inv.TotalPrice),
		InvoiceNr:    strings.TrimSpace(inv.InvoiceNr),
		Seller:       strings.TrimSpace(inv.Seller),
		Buyer:        strings.TrimSpace(inv.Buyer),
		Kategorie:    inv.Kategorie,
		AiConfidence: clampConfidence(inv.Confidence),
		IsGutschrift: inv.TotalPrice < 0,
	}, nil
}

// CheckCalendarConsistency verifies that year, month and week decompose from
// the invoice date. Rows built by Enrich always pass; independently supplied
// values (historical backfill) must not be trusted.
func CheckCalendarConsistency(inv *store.Invoice) error {
	_, week := inv.InvoiceDate.ISOWeek()
	if int(inv.InvoiceYear) != inv.InvoiceDate.Year() ||
		int(inv.InvoiceMonth) != int(inv.InvoiceDate.Month()) ||
		int(inv.InvoiceWeek) != week {
		return fmt.Errorf("calendar fields %d/%d/W%d do not decompose from %s",
			inv.InvoiceYear, inv.InvoiceMonth, inv.InvoiceWeek,
			inv.InvoiceDate.Format("2006-01-02"))
	}
	if (inv.TotalPrice < 0) != inv.IsGutschrift {
		return fmt.Errorf("is_gutschrift=%t inconsistent with total_price=%.2f",
			inv.IsGutschrift, inv.TotalPrice)
	}
	return nil
}

func clampConfidence(c float64) float64 {
	return math.Min(1, math.Max(0, c))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
