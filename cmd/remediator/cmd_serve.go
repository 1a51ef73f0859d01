package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/invisible-tech/autoheal-remediator/internal/auth"
	"github.com/invisible-tech/autoheal-remediator/internal/cluster"
	"github.com/invisible-tech/autoheal-remediator/internal/config"
	"github.com/invisible-tech/autoheal-remediator/internal/controller"
	"github.com/invisible-tech/autoheal-remediator/internal/executor"
	"github.com/invisible-tech/autoheal-remediator/internal/rules"
	"github.com/invisible-tech/autoheal-remediator/internal/server"
	"github.com/invisible-tech/autoheal-remediator/internal/version"
)

var serveFlags struct {
	addr       string
	kubeconfig string
	logLevel   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remediation webhook",
	Long: `Starts the HTTP webhook that accepts Falco and Alertmanager alerts.
Configuration comes from the environment; flags override it. When a rule
file is configured it is watched and reloaded on change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address; overrides HTTP_ADDR")
	serveCmd.Flags().StringVar(&serveFlags.kubeconfig, "kubeconfig", "", "kubeconfig path; overrides KUBECONFIG")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "log level; overrides LOG_LEVEL")
}

func serveConfig() config.RemediatorConfig {
	cfg := config.DefaultRemediatorConfig()
	if serveFlags.addr != "" {
		cfg.HTTPAddr = serveFlags.addr
	}
	if serveFlags.kubeconfig != "" {
		cfg.Kubeconfig = serveFlags.kubeconfig
	}
	if serveFlags.logLevel != "" {
		cfg.LogLevel = serveFlags.logLevel
	}
	if rulesFileFlag != "" {
		cfg.RulesFile = rulesFileFlag
	}
	return cfg
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := serveConfig()
	log := newLogger(cfg.LogLevel)

	table, err := loadTable(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	store := rules.NewStore(table)

	clientset, err := buildClient(cfg)
	if err != nil {
		return err
	}
	kube := cluster.NewKube(clientset)

	engine := controller.New(cfg, rules.NewDecider(store, log), executor.New(kube, log), log)
	gate := auth.NewGate(cfg, kube, log)
	srv := server.New(cfg, engine, store, gate, log)

	log.WithFields(logrus.Fields{
		"version":     version.String(),
		"auth_mode":   gate.Mode(),
		"remediation": cfg.RemediationEnabled,
		"rules":       table.Len(),
		"rules_file":  cfg.RulesFile,
	}).Info("Starting remediation webhook")
	if !cfg.RemediationEnabled {
		log.Warn("REMEDIATION_ENABLED=false, decisions will be logged but not applied")
	}
	if gate.Mode() == config.AuthModeOff {
		log.Warn("Webhook authentication is disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down remediation webhook")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RulesFile != "" {
		w, err := rules.NewWatcher(cfg.RulesFile, store, log)
		if err != nil {
			log.WithError(err).Warn("Rule file hot reload disabled")
		} else {
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	return g.Wait()
}

// buildClient prefers an explicit kubeconfig, then in-cluster config, then
// ~/.kube/config.
func buildClient(cfg config.RemediatorConfig) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			home, _ := os.UserHomeDir()
			restCfg, err = clientcmd.BuildConfigFromFlags("", filepath.Join(home, ".kube", "config"))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("kubeconfig error: %w", err)
	}
	restCfg.Timeout = cfg.KubeAPITimeout
	restCfg.UserAgent = "autoheal-remediator/" + version.Version
	return kubernetes.NewForConfig(restCfg)
}
