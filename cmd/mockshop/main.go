// Command mockshop serves a fake storefront API for local dry runs of
// storeload.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/logging"
	"github.com/wesleyorama2/storeload/internal/mockshop"
)

var rootCmd = &cobra.Command{
	Use:   "mockshop",
	Short: "Serve a fake storefront API",
	Long: `mockshop serves the storefront routes storeload drives: login, the
product catalog, brands, categories, product details, related products and
the current user. Point API_URL at it for a dry run.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         serve,
}

func serve(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	products, _ := cmd.Flags().GetInt("products")
	latency, _ := cmd.Flags().GetDuration("latency")
	tokenTTL, _ := cmd.Flags().GetDuration("token-ttl")
	envelope, _ := cmd.Flags().GetString("envelope")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log := logging.New(logLevel, "text", cmd.ErrOrStderr())

	opts := mockshop.DefaultOptions()
	opts.Products = products
	opts.Latency = latency
	opts.TokenTTL = tokenTTL
	opts.Envelope = envelope
	shop := mockshop.New(opts)

	// Configure server for high throughput
	server := &http.Server{
		Addr:              listen,
		Handler:           shop,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + latency,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.WithFields(logrus.Fields{
		"listen":   listen,
		"products": products,
		"latency":  latency,
		"cpus":     runtime.NumCPU(),
	}).Info("Mock storefront listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.WithField("requests", shop.Counts()).Info("Mock storefront stopped")
	return nil
}

func init() {
	defaults := mockshop.DefaultOptions()
	rootCmd.Flags().String("listen", ":8091", "Address to listen on")
	rootCmd.Flags().Int("products", defaults.Products, "Number of products in the catalog")
	rootCmd.Flags().Duration("latency", 0, "Delay added to every response")
	rootCmd.Flags().Duration("token-ttl", defaults.TokenTTL, "expires_in reported on login (0 omits it)")
	rootCmd.Flags().String("envelope", "", "Catalog envelope: data, none or nested")
	rootCmd.Flags().String("log-level", "info", "Log level: silent, error, warn, info, debug")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
