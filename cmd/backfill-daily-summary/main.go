package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

// Rebuilds sales_daily_summaries from pos_sales over a date range. Summaries
// are derived data, so this is safe to rerun at any time.
func main() {
	businessID := flag.String("business-id", "", "Business to backfill (uuid string). Required.")
	locationID := flag.String("location-id", "", "Optional: backfill only one location. If empty, backfills every location with sales.")
	from := flag.String("from", "", "Start date (YYYY-MM-DD). Defaults to 30 days ago.")
	to := flag.String("to", "", "End date (YYYY-MM-DD), inclusive. Defaults to today.")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "-business-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	start := utils.TruncateToDate(time.Now().Add(-30 * 24 * time.Hour))
	if strings.TrimSpace(*from) != "" {
		d, err := utils.ParseISODate(*from)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
			os.Exit(1)
		}
		start = d
	}
	end := utils.TruncateToDate(time.Now())
	if strings.TrimSpace(*to) != "" {
		d, err := utils.ParseISODate(*to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
			os.Exit(1)
		}
		end = d
	}
	if start.After(end) {
		fmt.Fprintln(os.Stderr, "-from is after -to")
		os.Exit(1)
	}

	ctx = utils.SetBusinessIdInContext(ctx, strings.TrimSpace(*businessID))

	locations := []string{strings.TrimSpace(*locationID)}
	if locations[0] == "" {
		if err := db.WithContext(ctx).Model(&models.PosSale{}).
			Where("business_id = ?", *businessID).
			Distinct("location_id").
			Pluck("location_id", &locations).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list locations: %v\n", err)
			os.Exit(1)
		}
		locations = utils.UniqueSlice(locations)
		if len(locations) == 0 {
			fmt.Println("no sales found; nothing to backfill")
			return
		}
	}

	rebuilt := 0
	for _, loc := range locations {
		for day := start; !day.After(end); day = day.Add(24 * time.Hour) {
			if err := models.RecalculateSalesDailySummary(ctx, db, *businessID, loc, day); err != nil {
				fmt.Fprintf(os.Stderr, "business %s location %s date %s: %v\n",
					*businessID, loc, day.Format("2006-01-02"), err)
				continue
			}
			rebuilt++
		}
	}

	fmt.Printf("Backfill complete: %d summary day(s) rebuilt across %d location(s)\n", rebuilt, len(locations))
}
