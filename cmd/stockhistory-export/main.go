package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/models"
	"github.com/mmdatafocus/pos_backend/models/reports"
	"github.com/mmdatafocus/pos_backend/utils"
)

func parseDate(name, v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s date: %v\n", name, err)
		os.Exit(1)
	}
	return &d
}

func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	productID := flag.String("product-id", "", "Optional: only this product")
	locationID := flag.Int("location-id", 0, "Optional: only this location")
	historyType := flag.String("type", "", "Optional: IN, OUT, MOVE_IN or MOVE_OUT")
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD)")
	to := flag.String("to", "", "Optional: end date inclusive (YYYY-MM-DD)")
	out := flag.String("out", "stock_history.xlsx", "Output file")
	flag.Parse()

	bid := strings.TrimSpace(*businessID)
	if bid == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), bid)
	filter := models.StockHistoryFilter{
		ProductId:  strings.TrimSpace(*productID),
		LocationId: *locationID,
		Type:       models.StockHistoryType(strings.ToUpper(strings.TrimSpace(*historyType))),
		From:       parseDate("from", *from),
		To:         parseDate("to", *to),
	}

	f, n, err := reports.StockHistoryWorkbook(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := f.SaveAs(*out); err != nil {
		fmt.Fprintf(os.Stderr, "save %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d stock history row(s) to %s\n", n, *out)
}
