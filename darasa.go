// Package darasa is the client-side synchronization core for the Darasa
// learning platform: a cached resource layer (resource.Registry) over the
// REST API and a session heartbeat (heartbeat.HeartBeat) that tracks
// connectivity.
package darasa

import (
	"log"
	"os"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/heartbeat"
	"github.com/trezcool/darasa/resource"
	"github.com/trezcool/darasa/rest"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/localstore"
)

// App bundles the configured client core. Construct one at application start
// and pass it by reference; the resource registry and connectivity state are
// process-wide.
type App struct {
	Conf      *core.Config
	Logger    core.Logger
	Client    *rest.Client
	Resources *resource.Registry
	HeartBeat *heartbeat.HeartBeat
	Store     *localstore.Store
}

// Options tweaks App construction; zero value works.
type Options struct {
	Conf *core.Config

	// SignOut is invoked when the heartbeat detects that the server session
	// no longer belongs to the local user.
	SignOut func(newUserID string)
}

func NewApp(opts Options) (*App, error) {
	conf := opts.Conf
	if conf == nil {
		conf = core.NewConfig()
	}

	std := log.New(os.Stdout, conf.AppName+" ", log.LstdFlags)
	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewConsoleLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	client, err := rest.NewClient(conf, logger)
	if err != nil {
		return nil, err
	}
	store, err := localstore.Open(conf.LocalStorePath)
	if err != nil {
		return nil, err
	}

	return &App{
		Conf:      conf,
		Logger:    logger,
		Client:    client,
		Resources: resource.NewRegistry(client, logger),
		HeartBeat: heartbeat.New(heartbeat.Options{
			Client:  client,
			Conf:    conf,
			Store:   store,
			Logger:  logger,
			SignOut: opts.SignOut,
		}),
		Store: store,
	}, nil
}

// SignedOutDueToInactivity consumes the one-shot flag left by a forced
// sign-out; the UI shows the explanation banner when it is set.
func (app *App) SignedOutDueToInactivity() (bool, error) {
	return app.Store.TakeFlag(heartbeat.SignedOutDueToInactivity)
}

// SignOut clears every cached resource and stops the heartbeat.
func (app *App) SignOut() {
	app.HeartBeat.Stop()
	app.Resources.ClearCaches()
}
