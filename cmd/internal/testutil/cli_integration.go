//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/velmie/messaging/mysql"
	"github.com/velmie/messaging/postgres"
)

const (
	mysqlImage        = "mysql:8.0.36"
	mysqlDatabase     = "messaging"
	mysqlUser         = "root"
	mysqlPassword     = "secret"
	postgresImage     = "postgres:16-alpine"
	postgresDatabase  = "messaging"
	postgresUser      = "messaging"
	postgresPassword  = "secret"
	cliContainerImage = "alpine:3.20"
	cliContainerPath  = "/cli"
	cliExitTimeout    = 2 * time.Minute
	startupTimeout    = 2 * time.Minute
)

// PostgresContainer is a migrated Postgres reachable from the host (Pool) and from CLI containers (DSN).
type PostgresContainer struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	Pool      *pgxpool.Pool
	DSN       string
}

// MySQLContainer is a migrated MySQL reachable from the host (DB) and from CLI containers (DSN).
type MySQLContainer struct {
	Container testcontainers.Container
	Network   *testcontainers.DockerNetwork
	DB        *sql.DB
	DSN       string
}

func newNetwork(t *testing.T, ctx context.Context) *testcontainers.DockerNetwork {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	return net
}

func StartPostgresContainer(t *testing.T, ctx context.Context) PostgresContainer {
	t.Helper()
	net := newNetwork(t, ctx)

	port := nat.Port("5432/tcp")
	dsn := func(host, port string) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port, postgresDatabase)
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDatabase,
			},
			Networks: []string{net.Name},
			NetworkAliases: map[string][]string{
				net.Name: {"postgres"},
			},
			WaitingFor: wait.ForSQL(port, "pgx", func(host string, port nat.Port) string {
				return dsn(host, port.Port())
			}).WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	pool, err := postgres.Connect(ctx, dsn(host, mappedPort.Port()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return PostgresContainer{
		Container: container,
		Network:   net,
		Pool:      pool,
		DSN:       dsn("postgres", "5432"),
	}
}

func mysqlDSN(host, port string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&multiStatements=true",
		mysqlUser, mysqlPassword, host, port, mysqlDatabase)
}

func StartMySQLContainer(t *testing.T, ctx context.Context) MySQLContainer {
	t.Helper()
	net := newNetwork(t, ctx)

	port := nat.Port("3306/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mysqlImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": mysqlPassword,
				"MYSQL_DATABASE":      mysqlDatabase,
			},
			Networks:       []string{net.Name},
			NetworkAliases: map[string][]string{net.Name: {"mysql"}},
			WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
				return mysqlDSN(host, port.Port())
			}).WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN(host, mappedPort.Port()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if _, err := db.ExecContext(ctx, mysql.Schema()); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return MySQLContainer{
		Container: container,
		Network:   net,
		DB:        db,
		DSN:       mysqlDSN("mysql", "3306"),
	}
}

// CLIResult is the outcome of one containerized CLI invocation.
type CLIResult struct {
	ExitCode int
	Logs     string
}

// RunCLI cross-compiles the main package in the working directory for linux and runs it with args
// inside a throwaway container attached to networkName.
func RunCLI(t *testing.T, ctx context.Context, networkName string, args ...string) CLIResult {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "cli")
	build := exec.Command("go", "build", "-o", bin, ".")
	build.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build cli: %v\n%s", err, out)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      cliContainerImage,
			Entrypoint: []string{cliContainerPath},
			Cmd:        args,
			Networks:   []string{networkName},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      bin,
				ContainerFilePath: cliContainerPath,
				FileMode:          0o755,
			}},
			WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start cli container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("cli state: %v", err)
	}
	rc, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("cli logs: %v", err)
	}
	defer rc.Close()
	logs, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("cli logs: %v", err)
	}

	return CLIResult{ExitCode: state.ExitCode, Logs: string(logs)}
}
