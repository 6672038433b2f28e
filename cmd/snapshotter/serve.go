package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter"
	"github.com/ledgerwatch/snapshotter/api"
	"github.com/ledgerwatch/snapshotter/internal/chain"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/consensus"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot/service"
)

var (
	listenAddr     string
	listenPort     int
	serveDB        string
	serveGenesisDB string
	restoreInto    string
	snapshotPeriod time.Duration

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the current snapshot and accept restorations over HTTP",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "localhost", "network interface to listen on")
	serveCmd.Flags().IntVar(&listenPort, "port", 8080, "port to listen on")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "chain database to take snapshots of")
	serveCmd.Flags().StringVar(&serveGenesisDB, "genesis-db", "", "database to read the genesis block from when --db is not set")
	serveCmd.Flags().StringVar(&restoreInto, "restore.into", "restored", "directory restored databases are moved to")
	serveCmd.Flags().DurationVar(&snapshotPeriod, "snapshot.period", 0, "take a snapshot of the best block this often (0 disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadSnapshotConfig()
	if err != nil {
		return err
	}
	engine, err := consensus.EngineByName(engineName)
	if err != nil {
		return err
	}
	components, err := consensus.ForEngine(engine, cfg)
	if errors.Is(err, snapshotter.ErrSnapshotsUnsupported) {
		log.Warn("engine cannot snapshot, serving status only", zap.String("engine", engineName))
	} else if err != nil {
		return err
	}

	var (
		n       *node
		genesis *chain.Block
	)
	if serveDB != "" {
		if n, err = openNode(serveDB, true); err != nil {
			return err
		}
		defer n.Close()
		if genesis, err = n.genesis(); err != nil {
			return err
		}
	} else if genesis, err = resolveGenesis(serveGenesisDB, engine); err != nil {
		return err
	}

	svc, err := service.New(service.Params{
		Config:     cfg,
		Engine:     engine,
		Components: components,
		Genesis:    genesis,
		Handler:    &archiveHandler{dir: restoreInto, log: log},
		Log:        log.Named("snapshot"),
	})
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(service.NewCollector(svc), collectors.NewGoCollector())

	handlers := api.NewHandler(api.APIServices{
		Snapshots: svc,
		Restorer:  svc,
		Metrics:   reg,
		Log:       log.Named("api"),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", listenAddr, listenPort),
		Handler:           handlers,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 1 * time.Minute,
	}

	ctx := cmd.Context()
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()
	log.Info("serving", zap.String("addr", srv.Addr))

	if n != nil && components != nil && snapshotPeriod > 0 {
		src := &service.ChainSource{Chain: n.chain, State: n.state, Components: components, Config: cfg}
		go snapshotLoop(ctx, svc, src, n.chain, log)
	}

	<-ctx.Done()
	log.Info("terminating gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.AbortSnapshot()
	return srv.Shutdown(shutdownCtx)
}

func snapshotLoop(ctx context.Context, svc *service.Service, src service.Source, c *chain.Chain, log *zap.Logger) {
	t := time.NewTicker(snapshotPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := svc.TakeSnapshot(ctx, src, c.Best().Number); err != nil {
				log.Warn("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

// archiveHandler keeps every restored database under dir, named by time.
type archiveHandler struct {
	dir string
	log *zap.Logger
}

func (h *archiveHandler) RestoreDB(path string) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(h.dir, strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := os.Rename(path, target); err != nil {
		return errors.Wrap(err, "move restored database")
	}
	h.log.Info("restored database ready", zap.String("path", target))
	return nil
}
