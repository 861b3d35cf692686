// Package app wires configuration, storage, AI providers, and the
// query pipeline into one application object.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floatchat/floatchat/api"
	"github.com/floatchat/floatchat/internal/config"
	"github.com/floatchat/floatchat/internal/history"
	"github.com/floatchat/floatchat/internal/knowledge"
	"github.com/floatchat/floatchat/internal/log"
	"github.com/floatchat/floatchat/internal/pipeline"
)

// App holds every initialized component. Construct with Setup; release
// with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Knowledge *knowledge.Store
	Indexer   *knowledge.Indexer
	History   *history.Store
	Pipeline  *pipeline.Orchestrator
	Server    *api.Server
}

// Close releases all resources. Safe to call on a partially initialized
// App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}

	return nil
}
