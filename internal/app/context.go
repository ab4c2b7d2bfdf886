package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"degasline/internal/config"
	"degasline/internal/db"
	"degasline/internal/engine"
	"degasline/internal/logging"
	"degasline/internal/metrics"
	"degasline/internal/migrate"
)

// Workspace bundles everything a command needs: the migrated database, the
// loaded config and an engine wired with logging and metrics.
type Workspace struct {
	Path    string
	DB      *sql.DB
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Recorder
	Engine  engine.Engine
}

// Open loads degasline.yml (falling back to defaults), opens and migrates
// the workspace database and builds the engine. Logs go to logOut, stderr
// when nil.
func Open(ctx context.Context, workspace string, logOut io.Writer) (*Workspace, error) {
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: logOut})

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rec := metrics.New()
	eng := engine.New(conn, cfg)
	eng.Metrics = rec
	eng.Logger = logger
	return &Workspace{
		Path:    workspace,
		DB:      conn,
		Config:  cfg,
		Logger:  logger,
		Metrics: rec,
		Engine:  eng,
	}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// InitConfig writes the default degasline.yml unless one exists. It reports
// whether a file was written.
func InitConfig(workspace string, force bool) (string, bool, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return path, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return path, false, fmt.Errorf("write config: %w", err)
	}
	return path, true, nil
}
