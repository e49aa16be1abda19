package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration and print the effective settings (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		row := func(k string, format string, args ...any) {
			fmt.Fprintf(w, "%s\t%s\n", k, fmt.Sprintf(format, args...))
		}

		row("http.addr", "%s", cfg.HTTP.Addr)
		row("log", "%s/%s", cfg.Log.Level, cfg.Log.Format)
		row("mysql.dsn", "%s", redactMySQLDSN(cfg.MySQL.DSN))
		row("clickhouse.dsn", "%s", redactURL(cfg.ClickHouse.DSN))
		row("redis", "%s db=%d", cfg.Redis.Addr, cfg.Redis.DB)
		row("kafka.brokers", "%s", strings.Join(cfg.Kafka.Brokers, ","))
		row("kafka.commands_topic", "%s", cfg.Kafka.CommandsTopic)
		row("device", "driver=%s scheme=%s timeout=%s", cfg.Device.Driver, cfg.Device.Scheme, cfg.Device.Timeout)
		row("cache", "backend=%s ttl=%s", cfg.Cache.Backend, cfg.Cache.TTL)
		row("billing", "suspend_after_days=%d invoice_due_days=%d warning_interval=%s",
			cfg.Billing.SuspendAfterDays, cfg.Billing.InvoiceDueDays, cfg.Billing.WarningInterval)

		methods := make([]string, 0, len(cfg.Payments.Methods))
		for name, m := range cfg.Payments.Methods {
			methods = append(methods, name+"="+m.Gateway)
		}
		sort.Strings(methods)
		row("payments.methods", "%s", strings.Join(methods, " "))

		keys := make([]string, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys = append(keys, k.Name+"("+k.Role+")")
		}
		row("auth.api_keys", "%d %s", len(keys), strings.Join(keys, " "))
		row("schedule", "sync=%s billing=%s invoices=%s snapshot=%s", cfg.Schedule.SyncInterval,
			cfg.Schedule.BillingInterval, cfg.Schedule.InvoiceInterval, cfg.Schedule.SnapshotInterval)
		return w.Flush()
	},
}

func redactMySQLDSN(dsn string) string {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	if c.Passwd != "" {
		c.Passwd = "xxxxx"
	}
	return c.FormatDSN()
}

func redactURL(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	return u.Redacted()
}
