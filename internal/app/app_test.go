package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/giftvault/giftvault/internal/config"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/redemption"
	"github.com/giftvault/giftvault/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func writeAppConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "giftvault.db")
	body := "database:\n  dsn: \"" + dsn + "\"\nwebhook:\n  secret: whsec\nserver:\n  admin_api_keys: [ops]\nlinks:\n  secret: link-secret\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvWebhookSecret, "")
	return config.AppConfig{ConfigPath: path}
}

func loadConfig(t *testing.T, cfg config.AppConfig) *config.Config {
	t.Helper()
	conf, err := LoadConfig(cfg)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return conf
}

func buildServices(t *testing.T, cfg config.AppConfig) *Services {
	t.Helper()
	s, err := Build(context.Background(), loadConfig(t, cfg))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func seedCard(t *testing.T, s *Services, expiry *time.Time) *models.GiftCard {
	t.Helper()
	merchant := models.Merchant{Name: "Shop"}
	if err := s.DB.Create(&merchant).Error; err != nil {
		t.Fatalf("merchant: %v", err)
	}
	m, err := s.Engine.Issue(context.Background(), redemption.IssueInput{
		Card: ledger.CreateCardInput{MerchantID: merchant.ID, Value: 5000, Currency: "USD", ExpiryDate: expiry, AllowPartialRedemption: true},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return m.Card
}

func TestBuildWiresRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := buildServices(t, writeAppConfig(t))
	if s.Links == nil {
		t.Fatalf("expected link signer when a secret is configured")
	}
	card := seedCard(t, s, nil)

	router := s.Router()
	for path, want := range map[string]int{
		"/healthz":                      http.StatusOK,
		"/v1/gift-cards/" + card.Code:   http.StatusOK,
		"/v1/reports/breakage":          http.StatusUnauthorized,
		"/v1/gift-cards/GIFT-0000-0000": http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rr.Code)
		}
	}
}

func TestRunSweepExpiresCards(t *testing.T) {
	cfg := writeAppConfig(t)
	s := buildServices(t, cfg)
	past := time.Now().UTC().Add(-48 * time.Hour)
	card := seedCard(t, s, &past)
	s.Close()

	enqueued, err := RunSweep(context.Background(), loadConfig(t, cfg), scheduler.SweepExpiry)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("enqueued = %d, want 1", enqueued)
	}

	check := buildServices(t, cfg)
	got, errGet := check.Store.Get(context.Background(), card.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if got.Status != models.GiftCardStatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
}

func TestBreakageCommand(t *testing.T) {
	cfg := writeAppConfig(t)
	s := buildServices(t, cfg)
	seedCard(t, s, nil)

	report, err := Breakage(context.Background(), loadConfig(t, cfg), breakage.Filter{})
	if err != nil {
		t.Fatalf("Breakage: %v", err)
	}
	if report.TotalIssued != 5000 || report.CardCount != 1 {
		t.Fatalf("report = %+v", report.Totals)
	}
}

func TestMigrateCreatesSchema(t *testing.T) {
	cfg := writeAppConfig(t)
	if err := Migrate(context.Background(), loadConfig(t, cfg)); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s := buildServices(t, cfg)
	if !s.DB.Migrator().HasTable(&models.Job{}) {
		t.Fatalf("jobs table missing after migrate")
	}
}

func TestMigrateRejectsBadDSN(t *testing.T) {
	conf := &config.Config{Database: config.DatabaseConfig{DSN: "mysql://nope"}}
	if err := Migrate(context.Background(), conf); err == nil {
		t.Fatalf("expected error for unsupported dsn")
	}
}
