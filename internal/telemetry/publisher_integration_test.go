//go:build integration
// +build integration

package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

var (
	loggerInitOnce sync.Once
	loggerInitErr  error
)

func initTestLogger() error {
	loggerInitOnce.Do(func() {
		loggerInitErr = logger.Init("error", "")
	})
	return loggerInitErr
}

func setupTestRabbitMQ(t *testing.T) (Config, func()) {
	if err := initTestLogger(); err != nil {
		t.Fatalf("Failed to initialize test logger: %v", err)
	}

	ctx := context.Background()

	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start rabbitmq container: %v", err)
	}

	host, err := rabbitmqContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get host: %v", err)
	}

	port, err := rabbitmqContainer.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}

	cfg := Config{
		Host:     host,
		Port:     port.Int(),
		User:     "guest",
		Password: "guest",
		Exchange: "signage.telemetry",
		Queue:    "signage.sync",
		DeviceID: "device-test",
	}

	cleanup := func() {
		if err := rabbitmqContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return cfg, cleanup
}

func testReport(failed []string) models.SyncReport {
	return models.SyncReport{
		RunID:     uuid.New(),
		Started:   time.Now().Add(-time.Minute),
		Finished:  time.Now(),
		Total:     3,
		Completed: 3 - len(failed),
		Failed:    failed,
	}
}

func TestNewPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	// Allow some time for RabbitMQ to be fully ready
	time.Sleep(2 * time.Second)

	p, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer p.Close()

	if p == nil {
		t.Fatal("NewPublisher() returned nil")
	}
}

func TestPublisher_PublishReport(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	time.Sleep(2 * time.Second)

	p, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()

	if err := p.PublishReport(ctx, testReport(nil)); err != nil {
		t.Errorf("PublishReport(completed) error = %v", err)
	}

	if err := p.PublishReport(ctx, testReport([]string{"42"})); err != nil {
		t.Errorf("PublishReport(failed) error = %v", err)
	}
}

func TestPublisher_IsHealthy(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	time.Sleep(2 * time.Second)

	p, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer p.Close()

	if !p.IsHealthy() {
		t.Error("IsHealthy() = false, want true")
	}

	p.Close()
	if p.IsHealthy() {
		t.Error("IsHealthy() after Close() = true, want false")
	}
}

func TestPublisher_ClosedConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	cfg, cleanup := setupTestRabbitMQ(t)
	defer cleanup()

	time.Sleep(2 * time.Second)

	p, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer p.Close()

	if p.conn != nil {
		p.conn.Close()
	}

	// Publishing over a dead connection must fail, not panic.
	if err := p.PublishReport(context.Background(), testReport(nil)); err == nil {
		t.Error("PublishReport() over closed connection succeeded, want error")
	}
}
