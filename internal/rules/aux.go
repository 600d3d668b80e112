package rules

import (
	"fmt"
	"sort"
	"time"

	"caseline/internal/domain"
)

func LowInventory(cfg Config, a AuxContext) []Candidate {
	var out []Candidate
	for _, it := range a.Inventory {
		if it.Quantity > cfg.LowStockThreshold {
			continue
		}
		out = append(out, Candidate{
			Kind:              domain.KindLowInventory,
			DedupKey:          "LOW_STOCK_" + it.ID,
			Title:             fmt.Sprintf("Low stock: %s", it.Name),
			Description:       fmt.Sprintf("%s (%s) has %d left, threshold %d.", it.Name, it.SKU, it.Quantity, cfg.LowStockThreshold),
			RecommendedAction: "Reorder from the supplier.",
		})
	}
	return out
}

func MortuaryOverstay(cfg Config, a AuxContext) []Candidate {
	var out []Candidate
	for _, m := range a.Mortuary {
		if m.ReleasedAt != nil || a.Now.Sub(m.CheckedInAt) < cfg.MortuaryOverstay {
			continue
		}
		out = append(out, Candidate{
			Kind:              domain.KindMortuaryOverstay,
			DedupKey:          "MORTUARY_OVERSTAY_" + m.ID,
			Title:             fmt.Sprintf("Mortuary overstay: %s", m.DeceasedName),
			Description:       fmt.Sprintf("%s has been in storage unit %s for %s.", m.DeceasedName, m.StorageUnit, formatHours(a.Now.Sub(m.CheckedInAt).Truncate(time.Hour))),
			RecommendedAction: "Confirm release date with the family and the receiving venue.",
			CaseID:            deref(m.CaseID),
		})
	}
	return out
}

// PlotDoubleBooked raises one alert per case sharing a plot with another case.
func PlotDoubleBooked(cfg Config, a AuxContext) []Candidate {
	byPlot := map[string][]string{}
	for _, p := range a.Plots {
		cases := byPlot[p.PlotID]
		if !containsString(cases, p.CaseID) {
			byPlot[p.PlotID] = append(cases, p.CaseID)
		}
	}
	plots := make([]string, 0, len(byPlot))
	for plot := range byPlot {
		plots = append(plots, plot)
	}
	sort.Strings(plots)
	var out []Candidate
	for _, plot := range plots {
		cases := byPlot[plot]
		if len(cases) < 2 {
			continue
		}
		for _, caseID := range cases {
			out = append(out, Candidate{
				Kind:              domain.KindPlotDoubleBooked,
				DedupKey:          "PLOT_CONFLICT_" + plot,
				Title:             fmt.Sprintf("Plot %s double-booked", plot),
				Description:       fmt.Sprintf("Plot %s is assigned to %d cases.", plot, len(cases)),
				RecommendedAction: "Confirm the correct assignment with the cemetery and reassign the other case.",
				CaseID:            caseID,
			})
		}
	}
	return out
}

func EquipmentOverdue(cfg Config, a AuxContext) []Candidate {
	var out []Candidate
	for _, e := range a.Equipment {
		if e.ReturnedAt != nil || e.DueBackAt == nil || !a.Now.After(*e.DueBackAt) {
			continue
		}
		out = append(out, Candidate{
			Kind:              domain.KindEquipmentOverdue,
			DedupKey:          "EQUIPMENT_OVERDUE_" + e.ID,
			Title:             fmt.Sprintf("Equipment overdue: %s", e.EquipmentName),
			Description:       fmt.Sprintf("%s was due back %s.", e.EquipmentName, e.DueBackAt.UTC().Format(time.RFC3339)),
			RecommendedAction: "Locate the equipment and arrange its return.",
			CaseID:            deref(e.CaseID),
		})
	}
	return out
}

func EquipmentDamaged(cfg Config, a AuxContext) []Candidate {
	var out []Candidate
	for _, e := range a.Equipment {
		if e.Condition != domain.ConditionDamaged {
			continue
		}
		out = append(out, Candidate{
			Kind:              domain.KindEquipmentDamaged,
			DedupKey:          "EQUIPMENT_DAMAGED_" + e.ID,
			Title:             fmt.Sprintf("Equipment damaged: %s", e.EquipmentName),
			Description:       fmt.Sprintf("%s was reported damaged.", e.EquipmentName),
			RecommendedAction: "Take the item out of service and book a repair or replacement.",
			CaseID:            deref(e.CaseID),
		})
	}
	return out
}

func WorkOrderDelayed(cfg Config, a AuxContext) []Candidate {
	var out []Candidate
	for _, w := range a.WorkOrders {
		if w.CompletedAt != nil || w.DueAt == nil || !a.Now.After(*w.DueAt) {
			continue
		}
		out = append(out, Candidate{
			Kind:              domain.KindWorkOrderDelayed,
			DedupKey:          "WORK_ORDER_DELAYED_" + w.ID,
			Title:             fmt.Sprintf("Vendor work order delayed: %s", w.Vendor),
			Description:       fmt.Sprintf("%s (%s) was due %s.", w.Description, w.Vendor, w.DueAt.UTC().Format(time.RFC3339)),
			RecommendedAction: "Chase the vendor for a revised delivery time.",
			CaseID:            deref(w.CaseID),
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
