package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kubeheal/remediator/internal/audit"
	"github.com/kubeheal/remediator/internal/config"
	"github.com/kubeheal/remediator/internal/engine"
	"github.com/kubeheal/remediator/internal/executor"
	"github.com/kubeheal/remediator/internal/guard"
	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/incident"
	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var processCmd = &cobra.Command{
	Use:   "process <event.json>",
	Short: "Process a single incident event and print the result",
	Long: `Process reads one raw incident event from a JSON file, runs it through
the full pipeline (classification, policy evaluation, safety checks,
execution) and prints the resulting action as JSON.

The history store configured in the config file is consulted and updated,
so cooldown and rate-limit checks behave exactly as in service mode.`,
	Args: cobra.ExactArgs(1),
	RunE: processEvent,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func processEvent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}
	var ev incident.RawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("failed to parse event file: %w", err)
	}

	if cfgFile == "" {
		cfgFile = "config/default.yaml"
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	policies, err := cfg.PolicyTable()
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	cluster, err := buildClusterClient()
	if err != nil {
		return err
	}

	store, err := history.OpenBadger(history.BadgerConfig{
		Path:   cfg.History.Path,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	exec := executor.New(cluster, executor.Config{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RetryBackoff:   cfg.Engine.RetryBackoff(),
		AttemptTimeout: cfg.Engine.AttemptTimeout(),
	}, slog.Default())

	eng, err := engine.New(engine.Config{
		Policies: policies,
		Store:    store,
		Executor: exec,
		Guard:    guard.New(slog.Default()),
		Auditor:  audit.NewAuditor(audit.Config{SecretKey: cfg.Audit.SecretKey, ClusterID: cfg.Audit.ClusterID}, slog.Default()),
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	result, err := eng.Process(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to process event: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))

	return nil
}

// buildClusterClient connects to the cluster, honoring dry-run mode.
func buildClusterClient() (executor.ClusterClient, error) {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		k8sConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}
	k8sClient, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	var cluster executor.ClusterClient = executor.NewKubeClient(dynamicClient, k8sClient, slog.Default())
	if IsDryRun() {
		cluster = executor.NewDryRunClient(cluster, slog.Default())
	}
	return cluster, nil
}
