package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"

	"github.com/opencxl/cxlsock/pkg/peer"
	"github.com/opencxl/cxlsock/pkg/storage"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core    coreConf
	Logging logConf
	Listen  []listenConf
	Status  statusConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Store     string
	Profiling bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// listenConf describes one TCP transaction listener.
type listenConf struct {
	Endpoint string
}

// statusConf describes the HTTP endpoint, serving WebSocket transaction
// connections on /ws and a JSON status report on /status.
type statusConf struct {
	Listen string
}

// daemon bundles the device's backing store and its listeners.
type daemon struct {
	store      *storage.Store
	servers    []*peer.Server
	httpServer *http.Server

	startedAt time.Time
}

func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseDaemon creates the daemon based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, profiling bool, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	// Logging
	configureLogging(conf.Logging)

	profiling = conf.Core.Profiling

	// Core
	if conf.Core.Store == "" {
		err = fmt.Errorf("core.store is empty")
		return
	}

	store, storeErr := storage.NewStore(conf.Core.Store)
	if storeErr != nil {
		err = storeErr
		return
	}

	d = &daemon{
		store:     store,
		startedAt: time.Now(),
	}

	backing := peer.NewStoreBacking(store)

	// Listen/transaction servers
	for _, conv := range conf.Listen {
		serv := peer.NewServer(conv.Endpoint, backing)
		if servErr, _ := serv.Start(); servErr != nil {
			err = servErr
			return
		}

		log.WithFields(log.Fields{
			"endpoint": conv.Endpoint,
		}).Info("Started transaction listener")

		d.servers = append(d.servers, serv)
	}

	// Status/HTTP endpoint
	if conf.Status.Listen != "" {
		router := mux.NewRouter()
		router.Handle("/ws", peer.NewWebSocketHandler(backing))
		router.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)

		d.httpServer = &http.Server{
			Addr:    conf.Status.Listen,
			Handler: router,
		}

		go func() {
			if httpErr := d.httpServer.ListenAndServe(); httpErr != http.ErrServerClosed {
				log.WithError(httpErr).Error("HTTP endpoint failed")
			}
		}()

		log.WithFields(log.Fields{
			"endpoint": conf.Status.Listen,
		}).Info("Started HTTP endpoint")
	}

	return
}

// statusReport is the /status response.
type statusReport struct {
	Uptime    string   `json:"uptime"`
	Listeners []string `json:"listeners"`
}

func (d *daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	report := statusReport{
		Uptime: time.Since(d.startedAt).String(),
	}
	for _, serv := range d.servers {
		report.Listeners = append(report.Listeners, serv.Address())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// Close shuts the daemon's listeners and store down, accumulating every
// failure instead of stopping at the first one.
func (d *daemon) Close() error {
	var errs error

	for _, serv := range d.servers {
		serv.Close()
	}

	if d.httpServer != nil {
		if err := d.httpServer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := d.store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs
}
