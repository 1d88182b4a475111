package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/rpc"
)

// healthTimeout bounds how long --health waits for a single child's
// initialize response before declaring it unhealthy.
const healthTimeout = 5 * time.Second

var healthCmd = &cobra.Command{
	Use:           "health [language]",
	Short:         "Probe spawnability and the initialize round-trip of configured children",
	Args:          cobra.MaximumNArgs(1),
	RunE:          runHealth,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// runHealth implements spec.md §6's --health: it probes, for one language or
// every configured one, that the child command spawns and answers an
// initialize request, independent of child.Manager's GetOrStart (which
// deliberately never performs this handshake itself, see DESIGN.md).
func runHealth(cmd *cobra.Command, args []string) error {
	logger, cleanup, err := setupLogger(logLevel, logFile)
	if err != nil {
		return configError(err)
	}
	defer cleanup()

	table, err := config.Load(configPath)
	if err != nil {
		return configError(err)
	}
	resolver := config.NewResolver(table)

	langs := resolver.Languages()
	if len(args) == 1 {
		langs = []string{args[0]}
	}
	sort.Strings(langs)

	if len(langs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no languages configured")
		return nil
	}

	failed := 0
	for _, lang := range langs {
		entry, err := resolver.Resolve(lang)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL (%v)\n", lang, err)
			failed++
			continue
		}
		if err := probeHealth(lang, entry, logger); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL (%v)\n", lang, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", lang)
	}

	if failed > 0 {
		return healthError(fmt.Errorf("%d of %d configured languages failed health check", failed, len(langs)))
	}
	return nil
}

// probeHealth spawns a standalone Child for entry, sends a minimal
// initialize request, and waits for any reply frame shaped like a JSON-RPC
// response before shutting it down again. It deliberately does not go
// through child.Manager so a health-checked process never lingers in the
// Manager's map for the serve command to find later.
func probeHealth(language string, entry config.Entry, logger *slog.Logger) error {
	c := child.New(language, entry, logger)

	replied := make(chan error, 1)
	c.OnMessage = func(_ string, payload []byte) {
		var env rpc.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return
		}
		if rpc.Classify(env) != rpc.KindResponse {
			return
		}
		var resp rpc.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return
		}
		if resp.Error != nil {
			select {
			case replied <- fmt.Errorf("initialize error: %s", resp.Error.Message):
			default:
			}
			return
		}
		select {
		case replied <- nil:
		default:
		}
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Shutdown(context.Background(), shutdownPayload(), exitPayload())

	req := rpc.Request{
		JSONRPC: rpc.Version,
		ID:      json.RawMessage(`"literate-lsp-health"`),
		Method:  "initialize",
		Params:  json.RawMessage(`{"processId":null,"rootUri":null,"capabilities":{}}`),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := c.Send(body); err != nil {
		return fmt.Errorf("spawned but did not accept initialize: %w", err)
	}

	select {
	case err := <-replied:
		return err
	case <-time.After(healthTimeout):
		return fmt.Errorf("no response to initialize within %s", healthTimeout)
	}
}

func shutdownPayload() []byte {
	req := rpc.Request{JSONRPC: rpc.Version, ID: json.RawMessage(`"literate-lsp-health-shutdown"`), Method: "shutdown"}
	body, _ := json.Marshal(req)
	return body
}

func exitPayload() []byte {
	notif := rpc.Notification{JSONRPC: rpc.Version, Method: "exit"}
	body, _ := json.Marshal(notif)
	return body
}
