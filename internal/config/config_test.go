package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadPriceMergeFallsBackToEqual(t *testing.T) {
	t.Setenv("SALE_PRICE_MERGE", "median")
	if got := Load().SalePriceMerge; got != PriceMergeEqual {
		t.Fatalf("expected %q, got %q", PriceMergeEqual, got)
	}

	t.Setenv("SALE_PRICE_MERGE", "Weighted")
	if got := Load().SalePriceMerge; got != PriceMergeWeighted {
		t.Fatalf("expected %q, got %q", PriceMergeWeighted, got)
	}
}

func TestLoadParsesKafkaBrokersAndNumbers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("LOW_STOCK_THRESHOLD", "-4")
	t.Setenv("EXPIRY_WARNING_DAYS", "30")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %#v", cfg.KafkaBrokers)
	}
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected invalid threshold to fall back to 10, got %d", cfg.LowStockThreshold)
	}
	if cfg.ExpiryWarningDays != 30 {
		t.Fatalf("expected 30 expiry warning days, got %d", cfg.ExpiryWarningDays)
	}
}
