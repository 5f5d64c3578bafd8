package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/pos_backend/config"
	"github.com/mmdatafocus/pos_backend/models"
	"github.com/mmdatafocus/pos_backend/utils"
	"gorm.io/gorm"
)

// stock-rebuild recomputes Product.stock from the per-location entries.
func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	productID := flag.String("product-id", "", "Optional: rebuild a single product")
	dryRun := flag.Bool("dry-run", false, "Print the recomputed totals without committing")
	flag.Parse()

	bid := strings.TrimSpace(*businessID)
	if bid == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), bid)
	ctx = utils.SetUserNameInContext(ctx, "StockRebuild")

	pid := strings.TrimSpace(*productID)
	if pid == "" && !*dryRun {
		n, err := models.RebuildBusinessStock(ctx, bid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rebuild failed after %d product(s): %v\n", n, err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt stock for %d product(s) in business %s\n", n, bid)
		return
	}

	var productIds []string
	if pid != "" {
		productIds = []string{pid}
	} else if err := db.WithContext(ctx).Model(&models.Product{}).
		Where("business_id = ? AND is_service = ?", bid, false).
		Order("id").Pluck("id", &productIds).Error; err != nil {
		fmt.Fprintf(os.Stderr, "list products: %v\n", err)
		os.Exit(1)
	}

	errDryRun := fmt.Errorf("dry run")
	for _, id := range productIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			total, err := models.RecomputeProductStock(tx, bid, id)
			if err != nil {
				return err
			}
			fmt.Printf("product=%s stock=%s\n", id, total.String())
			if *dryRun {
				return errDryRun
			}
			return nil
		})
		if err != nil && err != errDryRun {
			fmt.Fprintf(os.Stderr, "rebuild product %s failed: %v\n", id, err)
			os.Exit(1)
		}
	}
}
