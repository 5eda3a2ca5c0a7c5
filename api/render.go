package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/warp/prescribing-engine/concessions"
	"github.com/warp/prescribing-engine/orgs"
	"github.com/warp/prescribing-engine/spending"
)

// table is the CSV form of a response.
type table struct {
	header []string
	rows   [][]string
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeCSV(w http.ResponseWriter, status int, t table) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(status)
	cw := csv.NewWriter(w)
	cw.Write(t.header)
	cw.WriteAll(t.rows)
}

// respond writes data as JSON, or as CSV when the request asks for
// format=csv.
func respond(w http.ResponseWriter, r *http.Request, data any, asTable func() table) {
	if r.URL.Query().Get("format") == "csv" && asTable != nil {
		writeCSV(w, http.StatusOK, asTable())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// spendingTable lays out spending rows. Per-organisation levels add the
// row identity; the practice level adds ccg and setting.
func spendingTable(rows []spending.Row, level orgs.Level) table {
	header := []string{"date", "items", "quantity", "actual_cost"}
	if level != "" {
		header = append([]string{"row_id", "row_name"}, header...)
	}
	if level == orgs.LevelPractice {
		header = append(header, "ccg", "setting")
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{
			row.Date.String(),
			strconv.FormatInt(row.Items, 10),
			formatFloat(row.Quantity),
			formatFloat(row.ActualCost),
		}
		if level != "" {
			rec = append([]string{optString(row.RowID), optString(row.RowName)}, rec...)
		}
		if level == orgs.LevelPractice {
			setting := ""
			if row.Setting != nil {
				setting = strconv.Itoa(*row.Setting)
			}
			rec = append(rec, optString(row.CCG), setting)
		}
		out = append(out, rec)
	}
	return table{header: header, rows: out}
}

func summaryTable(rows []concessions.MonthSummary) table {
	t := table{header: []string{
		"month", "tariff_cost", "additional_cost", "is_estimate",
		"last_prescribing_date", "is_incomplete_month",
	}}
	for _, s := range rows {
		incomplete := ""
		if s.IsIncompleteMonth != nil {
			incomplete = strconv.FormatBool(*s.IsIncompleteMonth)
		}
		t.rows = append(t.rows, []string{
			s.Month.String(),
			formatFloat(s.TariffCost),
			formatFloat(s.AdditionalCost),
			strconv.FormatBool(s.IsEstimate),
			s.LastPrescribingDate.String(),
			incomplete,
		})
	}
	return t
}

func breakdownTable(rows []concessions.BreakdownRow) table {
	t := table{header: []string{
		"bnf_code", "product_name", "quantity", "tariff_cost", "additional_cost", "is_estimate",
	}}
	for _, b := range rows {
		t.rows = append(t.rows, []string{
			b.BNFCode,
			b.ProductName,
			formatFloat(b.Quantity),
			formatFloat(b.TariffCost),
			formatFloat(b.AdditionalCost),
			strconv.FormatBool(b.IsEstimate),
		})
	}
	return t
}

func tariffTable(rows []concessions.TariffListing) table {
	t := table{header: []string{
		"date", "price_pence", "vmpp", "vmpp_id", "product", "concession", "tariff_category", "pack_size",
	}}
	for _, l := range rows {
		concession := ""
		if l.ConcessionPence != nil {
			concession = strconv.FormatInt(*l.ConcessionPence, 10)
		}
		t.rows = append(t.rows, []string{
			l.Date.String(),
			strconv.FormatInt(l.PricePence, 10),
			l.VMPP,
			strconv.FormatInt(l.VMPPID, 10),
			l.Product,
			concession,
			l.TariffCategory,
			l.PackSize,
		})
	}
	return t
}
