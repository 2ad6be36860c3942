/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"

	"github.com/tasknet-io/tasknet/cmd/internal/build"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/executor"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/frontend"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/prometheus"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/registry"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/scheduler"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	gormdriver "github.com/tasknet-io/tasknet/cmd/orchestrator/storage/gorm"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/memdb"
	"github.com/tasknet-io/tasknet/pkg/appmain"
	"github.com/tasknet-io/tasknet/pkg/crypto"
	"github.com/tasknet-io/tasknet/pkg/server"
	"github.com/tasknet-io/tasknet/pkg/task"
)

var (
	address = flag.String("address", "0.0.0.0:43210", "The IP address and port to use for listening for client connections")

	certFile     = flag.String("cert-file", "", "")
	keyFile      = flag.String("key-file", "", "")
	generateCert = flag.Bool("generate-cert", false, "Generates a certificate for https")
	disableTls   = flag.Bool("disable-tls", true, "")

	enableFrontend  = flag.Bool("enable-frontend", false, "")
	enableScheduler = flag.Bool("enable-scheduler", false, "")
	enableExecutor  = flag.Bool("enable-executor", false, "")
	enableMetrics   = flag.Bool("enable-metrics", false, "")

	useMemdb = flag.Bool("use-memdb", false, "")
	gormDb   = flag.String("gorm-driver", "sqlite", "GORM database driver, sqlite or postgres")
	gormDsn  = flag.String("gorm-dsn", "tasknet.db", "GORM data source name")
)

func openStorage(ctx context.Context) (storage.Storage, error) {
	if *useMemdb {
		return memdb.OpenStorage(ctx)
	}

	return gormdriver.OpenStorage(ctx, *gormDb, *gormDsn)
}

func main() {
	appmain.Run("Tasknet Orchestrator", build.Version, func(group task.Group) error {
		var err error

		db, err := openStorage(group.Ctx())
		if err == nil {
			group.GoFn("Storage Close", func(group task.Group) error {
				<-group.Ctx().Done()
				return db.Close()
			})
		}

		var httpServer *server.Server
		if err == nil && (*enableFrontend || *enableMetrics) {
			var tlsConfig *tls.Config

			if !*disableTls {
				var certificate tls.Certificate
				if *certFile != "" && *keyFile != "" {
					certificate, err = tls.LoadX509KeyPair(*certFile, *keyFile)
				} else if *generateCert {
					certificate, err = crypto.GenerateCertificate()
				} else {
					err = errors.New("https is required, use both --cert-file and --key-file or --generate-cert")
				}

				if err == nil {
					tlsConfig = &tls.Config{
						Certificates: []tls.Certificate{certificate},
					}
				}
			}

			if err == nil {
				httpServer, err = server.NewServer(*address, tlsConfig)
			}
		}

		if err == nil && *enableFrontend {
			var fe *frontend.Frontend
			fe, err = frontend.NewFrontend(httpServer, db)
			if err == nil {
				group.Go("Frontend", fe)
			}
		}

		if err == nil && *enableMetrics {
			group.Go("Metrics", prometheus.NewFrontend(httpServer, db))
		}

		hostRegistry := registry.NewRegistry(db)

		if err == nil && *enableScheduler {
			group.Go("Scheduler", scheduler.NewScheduler(db, hostRegistry))
		}

		if err == nil && *enableExecutor {
			group.Go("Executor", executor.NewExecutor(db, hostRegistry))
		}

		if err == nil && httpServer != nil {
			group.GoFn("Server", httpServer.Run)
		}

		if err != nil {
			group.Cancel()
		}

		return err
	})
}
