package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbenitez/solemarket/internal/config"
	"github.com/mbenitez/solemarket/internal/db"
	"github.com/mbenitez/solemarket/internal/market"
	"github.com/mbenitez/solemarket/internal/models"
	"github.com/mbenitez/solemarket/internal/rates"
)

// Seed the database with demo data: a couple of users, a few variants, an
// exchange rate, and resting orders on both sides of each variant.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Skip if already seeded.
	var seeded bool
	if err := database.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM variants)").Scan(&seeded); err != nil {
		log.Fatalf("Failed to check variants: %v", err)
	}
	if seeded {
		fmt.Println("Database already has variants. No need to seed.")
		os.Exit(0)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	buyer, err := database.CreateUser(ctx, "demo-buyer", string(hash))
	if err != nil {
		log.Fatalf("Failed to create buyer: %v", err)
	}
	seller, err := database.CreateUser(ctx, "demo-seller", string(hash))
	if err != nil {
		log.Fatalf("Failed to create seller: %v", err)
	}

	// 1350.5000 local units per hard unit.
	if _, err := database.CreateRate(ctx, 13505000); err != nil {
		log.Fatalf("Failed to create rate: %v", err)
	}

	logger := zap.NewNop()
	rateSvc := rates.New(database, cfg.Market.RateCacheTTL, logger)
	svc := market.NewService(database, rateSvc, nil, logger)

	variants := []struct {
		product string
		size    string
		bid     int64
		ask     int64
	}{
		{"Air Max 90 OG", "42 EU", 9000000, 9500000},
		{"Dunk Low Panda", "43 EU", 11000000, 12000000},
		{"Samba OG White", "41 EU", 7500000, 8200000},
	}
	for _, v := range variants {
		variant, err := database.CreateVariant(ctx, v.product, v.size)
		if err != nil {
			log.Fatalf("Failed to create variant: %v", err)
		}
		if _, _, err := svc.PlaceOrder(ctx, models.SideBid, buyer.ID, variant.ID, v.bid, nil); err != nil {
			log.Fatalf("Failed to place bid: %v", err)
		}
		if _, _, err := svc.PlaceOrder(ctx, models.SideAsk, seller.ID, variant.ID, v.ask, nil); err != nil {
			log.Fatalf("Failed to place ask: %v", err)
		}
		fmt.Printf("Seeded %s (%s): bid %d / ask %d\n", v.product, v.size, v.bid, v.ask)
	}

	fmt.Println("Seeding complete.")
}
