// cmd/vinparts/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/server"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/api"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const defaultConfigFile = "vinparts.yaml"

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "serve":
		err = runServe(args)
	case "search":
		err = runSearch(args)
	case "stats":
		err = runStats(args)
	case "reset":
		err = runReset(args)
	case "validate":
		err = runValidate(args)
	case "template":
		err = printTemplate(os.Stdout)
	case "version", "--version":
		printVersion(os.Stdout)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// loadConfig reads path, or vinparts.yaml when present, or falls back to
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("VINPARTS_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigFile
	}
	return config.LoadFromFile(path)
}

func newService(ctx context.Context, configPath string) (*api.Service, *config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := utils.ConfigureLogging(cfg.Log); err != nil {
		return nil, nil, err
	}
	svc, err := api.New(ctx, cfg, api.WithVersion(version))
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	watch := fs.Bool("watch", false, "reload adaptive settings when the configuration file changes")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cfg, err := newService(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	if *watch {
		path := *configPath
		if path == "" {
			path = defaultConfigFile
		}
		if err := svc.WatchConfig(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	return server.New(cfg.Server, svc).ListenAndServe(ctx, 30*time.Second)
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: vinparts search [-config file] <vin>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, err := newService(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	res := svc.SearchPartsByVin(ctx, fs.Arg(0))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return utils.NewError(utils.ErrCodeAllMethodsExhausted, res.Error).Build()
	}
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	days := fs.Int("days", 7, "reporting window in days")
	xlsx := fs.String("xlsx", "", "write an Excel workbook to this path instead of printing")
	fs.Parse(args)

	ctx := context.Background()
	svc, _, err := newService(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	if *xlsx != "" {
		f, err := os.Create(*xlsx)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := svc.ExportStatistics(ctx, *days, f); err != nil {
			return err
		}
		fmt.Printf("✓ Statistics written to %s\n", *xlsx)
		return nil
	}

	reports, err := svc.Statistics(ctx, *days)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tREQUESTS\tSUCCESS\tRATE\tAVG TIME\tDELAY\tBLOCKED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%s\t%s\t%v\n",
			r.Method, r.TotalRequests, r.SuccessfulRequests, r.SuccessRate*100,
			utils.FormatDuration(r.AvgResponseTime.ToDuration()), r.CurrentDelay, r.Blocked)
	}
	fmt.Fprintf(tw, "\nBest method: %s\n", svc.BestMethod())
	return tw.Flush()
}

// runReset asks a running server to forget method statistics; the counters
// live in the serving process, not in the usage log.
func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "base URL of the running API")
	method := fs.String("method", "", "method to reset (all when empty)")
	apiKey := fs.String("api-key", os.Getenv("VINPARTS_API_KEY"), "bearer token for the API")
	fs.Parse(args)

	endpoint := strings.TrimRight(*serverURL, "/") + "/api/v1/stats/reset?" + url.Values{"method": {*method}}.Encode()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reset rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	target := *method
	if target == "" {
		target = "all methods"
	}
	fmt.Printf("✓ Statistics reset for %s\n", target)
	return nil
}

func runValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vinparts validate <config.yaml>")
	}
	if _, err := config.LoadFromFile(args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Configuration file '%s' is valid\n", args[0])
	return nil
}

func printTemplate(w io.Writer) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal template to YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// exitCode maps failures to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch {
	case errors.Is(err, utils.ErrInvalidVIN), errors.Is(err, utils.ErrInvalidConfig):
		return 2
	case errors.Is(err, utils.ErrAllMethodsExhausted):
		return 3
	default:
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "vinparts - vehicle parts lookup by VIN")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  vinparts serve [-config file] [-addr :8080] [-watch]   Run the HTTP API")
	fmt.Fprintln(w, "  vinparts search [-config file] <vin>                   Look up parts for a VIN")
	fmt.Fprintln(w, "  vinparts stats [-config file] [-days 7] [-xlsx file]   Show method statistics")
	fmt.Fprintln(w, "  vinparts reset [-server url] [-method name]            Reset statistics on a running server")
	fmt.Fprintln(w, "  vinparts validate <config.yaml>                        Validate configuration file")
	fmt.Fprintln(w, "  vinparts template                                      Print the default configuration")
	fmt.Fprintln(w, "  vinparts version                                       Show version information")
	fmt.Fprintln(w, "  vinparts help                                          Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  VINPARTS_CONFIG   configuration file used when -config is not given")
	fmt.Fprintln(w, "  VINPARTS_API_KEY  bearer token used by reset")
	fmt.Fprintln(w, "  .env              loaded on start; referenced from the YAML as ${VAR}")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "vinparts %s\n", version)
	fmt.Fprintf(w, "Build time: %s\n", buildTime)
	fmt.Fprintf(w, "Git commit: %s\n", gitCommit)
}
