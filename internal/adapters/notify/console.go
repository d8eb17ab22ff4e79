package notify

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alejandrodnm/ironclad/internal/analytics"
	"github.com/alejandrodnm/ironclad/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Reporter con tablas en texto.
type Console struct {
	out io.Writer
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un reporter sobre un writer arbitrario (tests).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Board imprime un board de picks con su exposición total.
func (c *Console) Board(title string, picks []domain.Pick) error {
	if len(picks) == 0 {
		fmt.Fprintf(c.out, "%s: no picks\n", title)
		return nil
	}

	fmt.Fprintf(c.out, "\n=== %s (%d picks, %.2fu) ===\n", title, len(picks), domain.TotalStake(picks))

	table := tablewriter.NewWriter(c.out)
	table.Header("Game", "Mkt", "Side", "Line", "Price", "Fair", "Prob", "EV%", "Grade", "Kelly", "Stake")
	for _, p := range picks {
		table.Append(
			p.GameID,
			string(p.Market),
			p.Side,
			lineLabel(p.Line),
			signed(p.PriceAmerican),
			signed(p.FairPriceAmerican),
			fmt.Sprintf("%.3f", p.ModelProb),
			fmt.Sprintf("%.2f", p.EVPercent),
			string(p.Grade),
			fmt.Sprintf("%.3f", p.KellyFraction),
			fmt.Sprintf("%.2f", p.StakeUnits),
		)
	}
	table.Render()
	return nil
}

// Guardrail imprime el veredicto y una fila por violación.
func (c *Console) Guardrail(r domain.Report) error {
	verdict := "PASS"
	if !r.OK {
		verdict = "FAIL"
	}
	fmt.Fprintf(c.out, "\nguardrail %s  season=%d week=%d sized=%t picks=%d total=%.2fu\n",
		verdict, r.Season, r.Week, r.Sized, r.Picks, r.TotalU)
	fmt.Fprintf(c.out, "  caps: total=%.2f team=%.2f market=%.2f game=%.2f min_picks=%d\n",
		r.Caps.MaxTotalU, r.Caps.MaxTeamU, r.Caps.MaxMarketU, r.Caps.MaxGameU, r.Caps.RequireMinPicks)
	if len(r.Violations) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Type", "Key", "Value", "Cap")
	for _, v := range r.Violations {
		key := v.Key
		if key == "" {
			key = "-"
		}
		table.Append(string(v.Type), key, fmt.Sprintf("%.2f", v.Value), fmt.Sprintf("%.2f", v.Cap))
	}
	table.Render()
	return nil
}

// PrintDiff imprime el resumen de DiffRuns y los mayores deltas de exposición.
func (c *Console) PrintDiff(runA, runB string, d analytics.Diff, deltas []analytics.ExposureChange, top int) {
	fmt.Fprintf(c.out, "Compared runs: A=%s vs B=%s\n", runA, runB)
	fmt.Fprintf(c.out, "Rows only in A: %d | only in B: %d | in both: %d\n", d.OnlyA, d.OnlyB, d.Both)
	fmt.Fprintf(c.out, "Grade changes: %d | Stake changes: %d\n", d.GradeChanges, d.StakeChanges)
	if d.MixedWeeks {
		fmt.Fprintln(c.out, "  ⚠ runs cover different season/week combinations")
	}
	if len(deltas) == 0 {
		return
	}
	if top > 0 && len(deltas) > top {
		deltas = deltas[:top]
	}

	fmt.Fprintln(c.out, "\nTop exposure deltas:")
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Stake A", "Stake B", "Delta")
	for _, e := range deltas {
		table.Append(
			string(e.Market),
			e.Side,
			fmt.Sprintf("%.2f", e.StakeA),
			fmt.Sprintf("%.2f", e.StakeB),
			fmt.Sprintf("%+.2f", e.Delta),
		)
	}
	table.Render()
}

// PrintRuns imprime una tabla de runs del ledger.
func (c *Console) PrintRuns(runs []domain.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "no runs recorded")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Run", "Season", "Week", "Profile", "Status", "Started", "Picks")
	for _, r := range runs {
		table.Append(
			r.RunID,
			fmt.Sprintf("%d", r.Season),
			fmt.Sprintf("%d", r.Week),
			r.Profile,
			string(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", r.PickCount),
		)
	}
	table.Render()
}

// PrintExposure imprime el stake por grupo de una dimensión.
func (c *Console) PrintExposure(dim analytics.Dimension, rows []analytics.Exposure) {
	if len(rows) == 0 {
		fmt.Fprintf(c.out, "no exposure by %s\n", dim)
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header(strings.ToUpper(string(dim)), "Picks", "Stake")
	for _, e := range rows {
		table.Append(e.Key, fmt.Sprintf("%d", e.Picks), fmt.Sprintf("%.2f", e.Stake))
	}
	table.Render()
}

// PrintStatus imprime el resumen del ledger.
func (c *Console) PrintStatus(path string, st domain.LedgerStatus) {
	fmt.Fprintf(c.out, "ledger: %s\n", path)
	fmt.Fprintf(c.out, "  runs=%d picks=%d sized=%d\n", st.Runs, st.Picks, st.SizedPicks)
	if st.LatestRun != nil {
		fmt.Fprintf(c.out, "  latest: %s (%d w%d, %s)\n",
			st.LatestRun.RunID, st.LatestRun.Season, st.LatestRun.Week,
			st.LatestRun.StartedAt.Format("2006-01-02 15:04:05"))
	}
}

func lineLabel(l *float64) string {
	if l == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *l)
}

// signed formatea una cuota americana con signo explícito: +125, -145.
func signed(price int) string {
	if price > 0 {
		return fmt.Sprintf("+%d", price)
	}
	return fmt.Sprintf("%d", price)
}
