package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmehdipour/isp-billing/internal/db"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo plans, a router and customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		s := seeder{
			plans:     repository.NewPlansRepository(sqlDB),
			routers:   repository.NewRoutersRepository(sqlDB),
			customers: repository.NewCustomersRepository(sqlDB),
			invoices:  repository.NewInvoicesRepository(sqlDB),
		}
		if err := s.run(cmd.Context()); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

type seeder struct {
	plans     repository.PlansRepository
	routers   repository.RoutersRepository
	customers repository.CustomersRepository
	invoices  repository.InvoicesRepository
}

// demoPlans match the profiles of the mock driver's demo secrets.
var demoPlans = []model.Plan{
	{Name: "Basic", Price: 2000, DownloadSpeed: 5, UploadSpeed: 2, PPPProfile: "basic-5m", IsActive: true},
	{Name: "Standard", Price: 3500, DownloadSpeed: 10, UploadSpeed: 5, PPPProfile: "standard-10m", IsActive: true},
	{Name: "Premium", Price: 6000, DownloadSpeed: 20, UploadSpeed: 10, PPPProfile: "premium-20m", IsActive: true},
}

type demoCustomer struct {
	model.Customer
	profile     string
	overdueDays int // >0 seeds an unpaid invoice this many days past due
}

var demoCustomers = []demoCustomer{
	{Customer: model.Customer{Username: "alice", Password: "alice-pw", Name: "Alice Demo", Email: "alice@isp.local", Status: model.CustomerActive}, profile: "basic-5m"},
	{Customer: model.Customer{Username: "bob", Password: "bob-pw", Name: "Bob Demo", Email: "bob@isp.local", Status: model.CustomerActive}, profile: "standard-10m", overdueDays: 3},
	{Customer: model.Customer{Username: "carol", Password: "carol-pw", Name: "Carol Demo", Email: "carol@isp.local", Status: model.CustomerActive}, profile: "premium-20m", overdueDays: 10},
}

// run is idempotent: plans and the router upsert by name, customers are skipped
// when the username exists.
func (s seeder) run(ctx context.Context) error {
	planIDs := make(map[string]int64, len(demoPlans))
	for _, p := range demoPlans {
		id, err := s.plans.Create(ctx, nil, &p)
		if err != nil {
			return fmt.Errorf("insert plan %q: %w", p.Name, err)
		}
		planIDs[p.PPPProfile] = id
	}

	routerID, err := s.routers.Create(ctx, nil, &model.Router{
		Name: "core-1", Host: "192.168.88.1", Username: "admin", Password: "admin", IsActive: true,
	})
	if err != nil {
		return fmt.Errorf("insert router: %w", err)
	}

	now := time.Now()
	for _, dc := range demoCustomers {
		existing, err := s.customers.GetByUsername(ctx, dc.Username)
		if err != nil {
			return fmt.Errorf("lookup customer %q: %w", dc.Username, err)
		}
		if existing != nil {
			continue
		}

		c := dc.Customer
		c.RouterID, c.PlanID = routerID, planIDs[dc.profile]
		id, err := s.customers.Create(ctx, nil, &c)
		if err != nil {
			return fmt.Errorf("insert customer %q: %w", c.Username, err)
		}
		if dc.overdueDays == 0 {
			continue
		}

		due := now.AddDate(0, 0, -dc.overdueDays)
		inv := model.Invoice{
			InvoiceNo:   fmt.Sprintf("INV-%04d-%02d-%s-demo", due.Year(), int(due.Month()), c.Username),
			CustomerID:  id,
			Amount:      planPrice(dc.profile),
			Status:      model.InvoicePending,
			Description: "Demo invoice",
			DueDate:     due,
		}
		if _, err := s.invoices.Create(ctx, nil, &inv); err != nil {
			return fmt.Errorf("insert invoice for %q: %w", c.Username, err)
		}
	}
	return nil
}

func planPrice(profile string) int64 {
	for _, p := range demoPlans {
		if p.PPPProfile == profile {
			return p.Price
		}
	}
	return 0
}
