// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/z5labs/xruntime"
	xhttp "github.com/z5labs/xruntime/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newProbeCmd(v *viper.Viper, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Request a URL and log the runtime reported by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newZapLogger(cfg.Logging, cmd.ErrOrStderr())
			defer log.Sync()

			key := xruntime.Key(cfg.Probe.Suffix)
			client := xhttp.NewClient(
				xhttp.ClientTimeout(cfg.Probe.Timeout),
				xhttp.ClientLogger(log),
				xhttp.Instrument(),
				xhttp.ObserveRuntime(key),
				xhttp.CircuitBreaker(xhttp.CircuitName("probe")),
				xhttp.RetryRequests(xhttp.MaxRetries(cfg.Probe.Retries)),
			)
			return probe(cmd.Context(), log, client, cfg.Probe.URL, cfg.Probe.Count)
		},
	}
	cmd.Flags().String("url", "", "URL to request")
	cmd.Flags().Int("count", 0, "number of requests to send")
	cmd.Flags().String("suffix", "", "runtime header suffix to read")
	bindFlag(v, cmd, "probe.url", "url")
	bindFlag(v, cmd, "probe.count", "count")
	bindFlag(v, cmd, "probe.suffix", "suffix")
	return cmd
}

func probe(ctx context.Context, log *zap.Logger, client *http.Client, url string, count int) error {
	var errs []error
	for i := 0; i < count; i++ {
		err := probeOnce(ctx, client, url)
		if err != nil {
			log.Error("probe failed", zap.String("url", url), zap.Int("attempt", i+1), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func probeOnce(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
