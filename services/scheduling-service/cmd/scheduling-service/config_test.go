package main

import (
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.GRPCPort != "9090" {
		t.Fatalf("unexpected ports %s/%s", cfg.Port, cfg.GRPCPort)
	}
	if cfg.DefaultWeeks != 4 || cfg.InitialStatus != model.StatusConfirmed {
		t.Fatalf("unexpected booking defaults %d/%s", cfg.DefaultWeeks, cfg.InitialStatus)
	}
	if cfg.SlotsWindow != 21*24*time.Hour || cfg.SlotsMax != 62*24*time.Hour {
		t.Fatalf("unexpected slot windows %s/%s", cfg.SlotsWindow, cfg.SlotsMax)
	}
}

func TestLoadConfigRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := loadConfig(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoadConfigReportsAllErrors(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("BOOKING_INITIAL_STATUS", "CANCELLED")
	t.Setenv("LOCK_WAIT", "soon")
	t.Setenv("SLOTS_DEFAULT_WINDOW_DAYS", "90")
	_, err := loadConfig()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, key := range []string{"BOOKING_INITIAL_STATUS", "LOCK_WAIT", "SLOTS_DEFAULT_WINDOW_DAYS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
}
