// Command danecheck verifies a server's TLS certificate against DANE/TLSA
// records published for a Handshake (or conventional) name, using the same
// resolver chain and DANE verifier the hnsresolved daemon serves.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jroosing/hnsresolve/internal/config"
	"github.com/jroosing/hnsresolve/internal/dane"
	"github.com/jroosing/hnsresolve/internal/logging"
	"github.com/jroosing/hnsresolve/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "danecheck: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		timeout    = flag.Duration("timeout", 10*time.Second, "Overall verify timeout")
		quiet      = flag.Bool("quiet", false, "Only print the final status")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: danecheck [flags] https://host[:443]")
		flag.PrintDefaults()
		return fmt.Errorf("missing target URL")
	}
	target := flag.Arg(0)

	cfgPath := config.ResolveConfigPath(*configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.Configure(logging.Config{Level: cfg.Logging.Level})
	if *quiet {
		logger = logging.Configure(logging.Config{Level: "ERROR"})
	}

	verifier, resolver, err := server.BuildVerifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}
	defer resolver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := verifier.Verify(ctx, target)
	printResult(result, *quiet)
	if err != nil && result.Status != dane.StatusOK {
		return err
	}
	if result.Status != dane.StatusOK {
		os.Exit(1)
	}
	return nil
}

func printResult(r dane.Result, quiet bool) {
	if quiet {
		fmt.Println(r.Status.String())
		return
	}
	fmt.Printf("host:    %s\n", r.Host)
	fmt.Printf("status:  %s\n", r.Status.String())
	if r.Status == dane.StatusOK {
		fmt.Printf("matched: TLSA record #%d\n", r.MatchedRecord)
		fmt.Printf("subject: %s\n", r.Subject)
		fmt.Printf("issuer:  %s\n", r.Issuer)
		fmt.Printf("spki:    %s\n", r.SPKIFingerprint)
	}
}
