package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/customer"
	"github.com/smallbiznis/payflow/internal/idempotency"
	"github.com/smallbiznis/payflow/internal/invoice"
	"github.com/smallbiznis/payflow/internal/ledger"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/outbox"
	"github.com/smallbiznis/payflow/internal/payment"
	"github.com/smallbiznis/payflow/internal/plan"
	"github.com/smallbiznis/payflow/internal/processor"
	"github.com/smallbiznis/payflow/internal/providerevent"
	"github.com/smallbiznis/payflow/internal/scheduler"
	"github.com/smallbiznis/payflow/internal/server"
	"github.com/smallbiznis/payflow/internal/subscription"
	"github.com/smallbiznis/payflow/internal/webhook"
	webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"
	"github.com/smallbiznis/payflow/internal/worker"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_e2e"

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	httpSrv   *httptest.Server
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	ledger    ledgerdomain.Service
	verifier  *webhookdomain.Verifier
	dataDir   string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dataDir, err := os.MkdirTemp("", "payflow-e2e-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create data dir:", err)
		os.Exit(1)
	}
	setDefaultEnv(dataDir)

	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		_ = os.RemoveAll(dataDir)
		os.Exit(1)
	}
	env.dataDir = dataDir

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	var (
		srv       *server.Server
		dbConn    *gorm.DB
		w         *worker.Worker
		sched     *scheduler.Scheduler
		ledgerSvc ledgerdomain.Service
		verifier  *webhookdomain.Verifier
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		customer.Module,
		plan.Module,
		invoice.Module,
		payment.Module,
		subscription.Module,
		ledger.Module,
		providerevent.Module,
		outbox.Module,
		idempotency.Module,
		webhook.Module,
		processor.Module,
		worker.Module,
		scheduler.Module,
		server.Module,
		migration.Module,
		fx.Populate(&srv, &dbConn, &w, &sched, &ledgerSvc, &verifier),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:       app,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		httpSrv:   httpSrv,
		worker:    w,
		scheduler: sched,
		ledger:    ledgerSvc,
		verifier:  verifier,
	}, nil
}

func (e *testEnv) shutdown() {
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.app.Stop(ctx)
	if e.dataDir != "" {
		_ = os.RemoveAll(e.dataDir)
	}
}

// The loops are driven by the tests, so no role starts a background goroutine.
func setDefaultEnv(dataDir string) {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("PAYFLOW_ROLES", "none")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_PATH", filepath.Join(dataDir, "payflow.db")+"?_pragma=busy_timeout(5000)")
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("DATABASE_MAX_IDLE_CONN", "1")
	setEnvIfEmpty("WEBHOOK_SECRET", webhookSecret)
	setEnvIfEmpty("PAYFLOW_EVENTMAXATTEMPTS", "2")
	setEnvIfEmpty("PAYFLOW_OUTBOXCONCURRENCY", "2")
}

func setEnvIfEmpty(key, value string) {
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, value)
	}
}

func resetDatabase(t *testing.T) {
	t.Helper()
	// ledger accounts are seeded once at startup and stay
	for _, table := range []string{
		"ledger_entries",
		"ledger_transactions",
		"payments",
		"outbox_jobs",
		"provider_events",
		"idempotency_records",
		"invoices",
		"subscriptions",
		"plans",
		"customers",
	} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(p)
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, respBody
}

func decodeData(t *testing.T, body []byte, out any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v: %s", err, string(body))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v: %s", err, string(body))
	}
}

func countRows(t *testing.T, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := env.db.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func mustParseID(t *testing.T, value string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(value)
	if err != nil {
		t.Fatalf("parse id %q: %v", value, err)
	}
	return id
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func mustUnmarshal(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(body), err)
	}
}
