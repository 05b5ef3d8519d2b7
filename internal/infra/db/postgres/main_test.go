//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

var testPool *pgxpool.Pool

// TestMain uses OMNICODER_TEST_DATABASE_URL when set, otherwise it starts a throwaway
// postgres container and stops it afterwards.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("OMNICODER_TEST_DATABASE_URL")
	stop := func() {}
	if connStr == "" {
		var containerID string
		containerID, connStr = startPostgres()
		stop = func() {
			if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
				log.Printf("could not stop postgres container %s: %v", containerID, err)
			}
		}
	}

	var err error
	for attempt := 1; attempt <= 15; attempt++ {
		if testPool, err = pgxpool.Connect(ctx, connStr); err == nil {
			if err = testPool.Ping(ctx); err == nil {
				break
			}
			testPool.Close()
		}
		log.Printf("waiting for database (attempt %d/15)", attempt)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("unable to connect to test database: %v", err)
	}

	logger := zerolog.Nop()
	if err := Migrate(connStr, &logger); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("could not apply migrations: %v", err)
	}

	code := m.Run()
	testPool.Close()
	stop()
	os.Exit(code)
}

func startPostgres() (containerID, connStr string) {
	const (
		name = "omnicoder_test"
		user = "omnicoder"
		pass = "omnicoder"
		port = "55432"
	)
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", port+":5432",
		"-e", "POSTGRES_DB="+name,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+pass,
		"postgres:16-alpine",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}
	id := strings.TrimSpace(out.String())
	if len(id) > 12 {
		id = id[:12]
	}
	return id, fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", user, pass, port, name)
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE tasks, settings, conversation_logs, file_snapshots, cost_entries RESTART IDENTITY`)
	if err != nil {
		t.Fatalf("failed to clean up database: %v", err)
	}
}
