package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/fetchstate/internal/config"
	"github.com/samvad-hq/fetchstate/internal/logger"
	"github.com/samvad-hq/fetchstate/pkg/fetchstate"
	"github.com/samvad-hq/fetchstate/pkg/httpclient"
	"github.com/samvad-hq/fetchstate/pkg/targets"
)

type fetchOptions struct {
	method  string
	headers []string
	body    string
	decoder string
	timeout time.Duration
}

func newFetchCmd() *cobra.Command {
	opts := fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch URL once and print the settled state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.Init(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Close()
			return runFetch(cmd.Context(), cmd.OutOrStdout(), args[0], opts, log)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.method, "request", "X", "GET", "HTTP method")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "request header 'Key: Value' (repeatable)")
	flags.StringVarP(&opts.body, "data", "d", "", "request body (sent as JSON when it parses as JSON)")
	flags.StringVar(&opts.decoder, "decoder", targets.DecoderJSON, "payload decoder: json, text or html")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func runFetch(ctx context.Context, out io.Writer, url string, opts fetchOptions, log fetchstate.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	decode, err := targets.DecoderFor(opts.decoder)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return err
	}

	cfg := fetchstate.Config{Method: strings.ToUpper(opts.method), Headers: headers}
	if opts.body != "" {
		cfg.Body = requestBody(opts.body)
	}

	fs := fetchstate.New(url, cfg, decode,
		fetchstate.WithContext(ctx),
		fetchstate.WithClient(httpclient.NewRestyClient(opts.timeout)),
		fetchstate.WithLogger(log),
	)
	defer fs.Close()

	state, err := fs.WaitSettled(ctx)
	if err != nil {
		return fmt.Errorf("wait for response: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stateView(state)); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if state.Failed() {
		return errors.New(state.Failure)
	}
	return nil
}

func stateView(s fetchstate.State[any]) map[string]any {
	view := map[string]any{
		"status":  s.Status(),
		"attempt": s.Attempt,
	}
	if s.HasPayload {
		view["payload"] = s.Payload
	}
	if s.Failure != "" {
		view["failure"] = s.Failure
	}
	return view
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		key, val, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (expected 'Key: Value')", h)
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers, nil
}

// requestBody passes JSON documents through as values so the transport encodes them as JSON.
func requestBody(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
