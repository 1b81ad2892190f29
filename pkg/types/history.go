package types

// EnergyFigures are the scalar energy quantities (kWh) shared by daily and
// lifetime summaries.
type EnergyFigures struct {
	Production   float64 `json:"production"`
	Purchased    float64 `json:"purchased"`
	Sold         float64 `json:"sold"`
	Consumed     float64 `json:"consumed"`
	SelfConsumed float64 `json:"selfConsumed"`
}

// HistorySample is one day's energy figures.
type HistorySample struct {
	Date string `json:"date"`
	EnergyFigures
}

// TotalsSample is the lifetime cumulative energy figures.
type TotalsSample struct {
	EnergyFigures
}

// DailyHistoryRow is one day of the history table. Values are in kWh or in
// percent depending on which table the row belongs to.
type DailyHistoryRow struct {
	Year                string  `json:"Année"`
	Date                string  `json:"Date"`
	Color               string  `json:"Couleur"`
	SunHours            float64 `json:"SunHours"`
	ProductionSolarEdge float64 `json:"Production_SolarEdge"`
	ProductionECU       float64 `json:"Production_Ecu"`
	ProductionTotal     float64 `json:"Production_Total"`
	Forecast            float64 `json:"Prevision"`
	Purchase            float64 `json:"Achat"`
	PurchaseOffPeak     float64 `json:"HC"`
	PurchasePeak        float64 `json:"HP"`
	Consumption         float64 `json:"Consommation"`
	SelfConsumption     float64 `json:"Autoconsommation"`
	Sale                float64 `json:"Vente"`
	Charger             float64 `json:"Borne"`
	ConsumptionHouse    float64 `json:"ConsommationMaison"`
	ConsumptionAnnex    float64 `json:"ConsommationAnnexe"`
	BatteryCharge       float64 `json:"BatteryCharge"`
	BatteryDischarge    float64 `json:"BatteryDischarge"`
	BatteryTotal        float64 `json:"BatteryTotal"`
	PurchaseHouse       float64 `json:"AchatMaison"`
	PurchaseAnnex       float64 `json:"AchatAnnexe"`
}

// MetForecast reports whether production reached the forecast for the day.
func (r DailyHistoryRow) MetForecast() bool {
	return r.ProductionTotal >= r.Forecast
}

// Sample reduces the row to its scalar energy figures.
func (r DailyHistoryRow) Sample() HistorySample {
	return HistorySample{
		Date: r.Date,
		EnergyFigures: EnergyFigures{
			Production:   r.ProductionTotal,
			Purchased:    r.Purchase,
			Sold:         r.Sale,
			Consumed:     r.Consumption,
			SelfConsumed: r.SelfConsumption,
		},
	}
}

// DailyHistoryTables holds the same rows expressed in kWh and in percent.
type DailyHistoryTables struct {
	ByKWH     []DailyHistoryRow `json:"byKwh"`
	ByPercent []DailyHistoryRow `json:"byPourc"`
}

// DailyHistory holds the per-day history grouped by period and ungrouped.
type DailyHistory struct {
	Group   DailyHistoryTables `json:"group"`
	UnGroup DailyHistoryTables `json:"unGroup"`
}

// Table selects one of the four history tables.
func (h DailyHistory) Table(grouped, percent bool) []DailyHistoryRow {
	t := h.UnGroup
	if grouped {
		t = h.Group
	}
	if percent {
		return t.ByPercent
	}
	return t.ByKWH
}

// Clone returns a deep copy.
func (h DailyHistory) Clone() DailyHistory {
	return DailyHistory{
		Group: DailyHistoryTables{
			ByKWH:     append([]DailyHistoryRow(nil), h.Group.ByKWH...),
			ByPercent: append([]DailyHistoryRow(nil), h.Group.ByPercent...),
		},
		UnGroup: DailyHistoryTables{
			ByKWH:     append([]DailyHistoryRow(nil), h.UnGroup.ByKWH...),
			ByPercent: append([]DailyHistoryRow(nil), h.UnGroup.ByPercent...),
		},
	}
}
