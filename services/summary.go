package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"rentcomps/models"
	"rentcomps/utils"
)

// SummaryService computes and prints market statistics over ranked comps.
type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger}
}

// Generate summarises a ranked comp set. The indicated rent weights each
// comp's rent by its similarity score.
func (s *SummaryService) Generate(comps []models.ScoredListing) *models.MarketSummary {
	report := &models.MarketSummary{
		ByStatus: make(map[models.ListingStatus]int),
		ByCity:   make(map[string]int),
	}
	if len(comps) == 0 {
		return report
	}

	report.TotalComps = len(comps)
	report.TopComp = &comps[0]
	report.MinRent = comps[0].Rent
	report.MaxRent = comps[0].Rent

	rents := make([]float64, 0, len(comps))
	var total, perSqftTotal, weighted, weights float64
	var perSqftCount int

	for _, c := range comps {
		rents = append(rents, c.Rent)
		total += c.Rent
		if c.Rent < report.MinRent {
			report.MinRent = c.Rent
		}
		if c.Rent > report.MaxRent {
			report.MaxRent = c.Rent
		}
		if c.RentPerSqft > 0 {
			perSqftTotal += c.RentPerSqft
			perSqftCount++
		}
		weighted += c.Rent * float64(c.Score)
		weights += float64(c.Score)

		report.ByStatus[c.Status]++
		if c.City != "" {
			report.ByCity[c.City]++
		}
	}

	report.AverageRent = round2(total / float64(len(comps)))
	report.MedianRent = round2(median(rents))
	if perSqftCount > 0 {
		report.AverageRentSqft = round2(perSqftTotal / float64(perSqftCount))
	}
	if weights > 0 {
		report.IndicatedRent = round2(weighted / weights)
	} else {
		report.IndicatedRent = report.AverageRent
	}

	s.logger.Debug("[comps] Summary: %d comps, avg $%.2f, indicated $%.2f",
		report.TotalComps, report.AverageRent, report.IndicatedRent)
	return report
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Print writes the ranked comps table and the market summary to w.
func (s *SummaryService) Print(w io.Writer, subject *models.Subject, comps []models.ScoredListing, r *models.MarketSummary) error {
	sep := strings.Repeat("═", 72)
	heading := color.New(color.FgHiMagenta, color.Bold)
	section := color.New(color.FgHiYellow, color.Bold)
	money := color.New(color.FgHiGreen, color.Bold)

	heading.Fprintf(w, "\n%s\n", sep)
	heading.Fprintf(w, "  RENTAL COMPS  %s\n", describeSubject(subject))
	heading.Fprintf(w, "%s\n\n", sep)

	if len(comps) == 0 {
		fmt.Fprintln(w, "  No comparable rentals found")
		return nil
	}

	table := tablewriter.NewWriter(w)
	if err := table.Append([]string{"#", "Score", "Address", "City", "Bd/Ba", "Sqft", "Rent", "$/Sqft", "Miles", "Status"}); err != nil {
		return err
	}
	for i, c := range comps {
		miles := "-"
		if c.DistanceKnown {
			miles = fmt.Sprintf("%.2f", c.DistanceMiles)
		}
		row := []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", c.Score),
			truncate(c.Address, 32),
			c.City,
			fmt.Sprintf("%d/%d", c.Bedrooms, c.Bathrooms),
			fmt.Sprintf("%d", c.Sqft),
			fmt.Sprintf("$%.0f", c.Rent),
			fmt.Sprintf("%.2f", c.RentPerSqft),
			miles,
			string(c.Status),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	section.Fprintln(w, "  Market Summary")
	fmt.Fprintf(w, "  Comps            : %d\n", r.TotalComps)
	fmt.Fprintf(w, "  Average rent     : %s\n", money.Sprintf("$%.2f", r.AverageRent))
	fmt.Fprintf(w, "  Median rent      : %s\n", money.Sprintf("$%.2f", r.MedianRent))
	fmt.Fprintf(w, "  Range            : $%.2f – $%.2f\n", r.MinRent, r.MaxRent)
	if r.AverageRentSqft > 0 {
		fmt.Fprintf(w, "  Average $/sqft   : $%.2f\n", r.AverageRentSqft)
	}
	fmt.Fprintf(w, "  Indicated rent   : %s\n", money.Sprintf("$%.2f", r.IndicatedRent))

	fmt.Fprintln(w)
	section.Fprintln(w, "  By Status")
	for _, st := range []models.ListingStatus{models.StatusLeased, models.StatusPending, models.StatusActive} {
		if n := r.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, "  %-10s %s (%d)\n", st, strings.Repeat("█", n), n)
		}
	}

	if len(r.ByCity) > 0 {
		fmt.Fprintln(w)
		section.Fprintln(w, "  By City")
		type cityCount struct {
			city  string
			count int
		}
		cities := make([]cityCount, 0, len(r.ByCity))
		for city, n := range r.ByCity {
			cities = append(cities, cityCount{city, n})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count != cities[j].count {
				return cities[i].count > cities[j].count
			}
			return cities[i].city < cities[j].city
		})
		for _, cc := range cities {
			fmt.Fprintf(w, "  %-24s %s (%d)\n", truncate(cc.city, 22), strings.Repeat("█", cc.count), cc.count)
		}
	}

	heading.Fprintf(w, "\n%s\n\n", sep)
	return nil
}

func describeSubject(s *models.Subject) string {
	parts := make([]string, 0, 3)
	if s.Address != "" {
		parts = append(parts, s.Address)
	}
	if s.City != "" {
		parts = append(parts, s.City)
	}
	if s.Bedrooms > 0 || s.Bathrooms > 0 || s.Sqft > 0 {
		parts = append(parts, fmt.Sprintf("%dbd/%dba %dsqft", s.Bedrooms, s.Bathrooms, s.Sqft))
	}
	return strings.Join(parts, " · ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
