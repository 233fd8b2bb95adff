package dump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
)

// commandBuilder renders the tool invocation for one database.
type commandBuilder func(inst config.Instance, database string) Command

// ToolProvider dumps databases with an external tool whose stdout is the dump.
type ToolProvider struct {
	engine config.Engine
	ext    string
	dir    string
	build  commandBuilder
	runner Runner
	now    func() time.Time
	logger *slog.Logger
}

func newToolProvider(engine config.Engine, ext string, build commandBuilder, dir string, runner Runner, logger *slog.Logger) *ToolProvider {
	return &ToolProvider{
		engine: engine,
		ext:    ext,
		dir:    dir,
		build:  build,
		runner: runner,
		now:    time.Now,
		logger: logger,
	}
}

// NewMySQLProvider dumps with mysqldump into {database}-{timestamp}.sql.
func NewMySQLProvider(dir string, runner Runner, logger *slog.Logger) *ToolProvider {
	return newToolProvider(config.EngineMySQL, "sql", mysqlCommand, dir, runner, logger)
}

// NewPostgresProvider dumps with pg_dump into {database}-{timestamp}.sql.
func NewPostgresProvider(dir string, runner Runner, logger *slog.Logger) *ToolProvider {
	return newToolProvider(config.EnginePostgres, "sql", postgresCommand, dir, runner, logger)
}

// NewMongoProvider dumps with mongodump into a gzip archive {database}-{timestamp}.gz.
func NewMongoProvider(dir string, runner Runner, logger *slog.Logger) *ToolProvider {
	return newToolProvider(config.EngineMongo, "gz", mongoCommand, dir, runner, logger)
}

func (p *ToolProvider) Dump(ctx context.Context, inst config.Instance, database string) (Result, error) {
	fail := func(err error) (Result, error) {
		return Result{}, &Failure{Engine: p.engine, Database: database, Err: err}
	}

	dir, err := ensureDir(p.dir)
	if err != nil {
		return fail(err)
	}

	filename := Filename(database, p.now(), p.ext)
	path := filepath.Join(dir, filename)

	cmd := p.build(inst, database)
	if inst.IsDocker {
		cmd = inDocker(inst.DockerContainer, cmd)
	}

	file, err := os.Create(path)
	if err != nil {
		return fail(fmt.Errorf("failed to create dump file: %w", err))
	}

	p.logger.Debug("Running dump tool", "engine", p.engine, "database", database, "tool", cmd.Name, "file", path)

	runErr := p.runner.Run(ctx, cmd, file)
	closeErr := file.Close()
	if err := errors.Join(runErr, closeErr); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("Failed to remove partial dump file", "file", path, "error", rmErr)
		}
		return fail(err)
	}

	p.logger.Debug("Backup created", "engine", p.engine, "database", database, "filename", filename)
	return Result{Filename: filename, Path: path}, nil
}

func ensureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve dump directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}
	return abs, nil
}

func mysqlCommand(inst config.Instance, database string) Command {
	var args []string
	if inst.Host != "" {
		args = append(args, "-h", inst.Host)
	}
	if inst.Port != "" {
		args = append(args, "-P", inst.Port)
	}
	if inst.User != "" {
		args = append(args, "-u", inst.User)
	}
	args = append(args, database)

	cmd := Command{Name: "mysqldump", Args: args}
	if inst.Password != "" {
		cmd.Env = []string{"MYSQL_PWD=" + inst.Password}
	}
	return cmd
}

func postgresCommand(inst config.Instance, database string) Command {
	var args []string
	if inst.Host != "" {
		args = append(args, "-h", inst.Host)
	}
	if inst.Port != "" {
		args = append(args, "-p", inst.Port)
	}
	if inst.User != "" {
		args = append(args, "-U", inst.User)
	}
	args = append(args, database)

	cmd := Command{Name: "pg_dump", Args: args}
	if inst.Password != "" {
		cmd.Env = []string{"PGPASSWORD=" + inst.Password}
	}
	return cmd
}

func mongoCommand(inst config.Instance, database string) Command {
	var args []string
	if inst.Host != "" {
		args = append(args, "--host", inst.Host)
	}
	if inst.Port != "" {
		args = append(args, "--port", inst.Port)
	}
	if inst.User != "" {
		// mongodump has no password environment variable.
		args = append(args, "-u", inst.User, "-p", inst.Password, "--authenticationDatabase", "admin")
	}
	args = append(args, "--db", database, "--archive", "--gzip")

	return Command{Name: "mongodump", Args: args}
}
