/*
Package tools provides the builtin connectors served in-process by the host.

Each builtin is a langchaingo tools.Tool whose input is the JSON object
argument of the connector call and whose output is a JSON document. The
builtins are registered into the connector catalog next to the connectors
loaded from file, and routed so the agent calls them like any other
connector:

- get:/datetime       current time in a timezone
- get:/system/info    facts about the host
- get:/network/lookup DNS resolution of a hostname
*/
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"

	"metaagent/connector"
)

// networkLogger provides structured logging for all network lookups
var networkLogger = logrus.WithField("tool", "network")

// NetworkTool resolves hostnames through the system resolver.
type NetworkTool struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewNetworkTool creates a lookup tool using the default resolver.
//
// Returns:
//   - *NetworkTool: Configured network tool ready for use
func NewNetworkTool() *NetworkTool {
	networkLogger.Debug("Initializing network tool")
	return &NetworkTool{resolver: net.DefaultResolver, timeout: 5 * time.Second}
}

// Description returns the description shown in the connector catalog.
func (n *NetworkTool) Description() string {
	return "Resolves a hostname to its IP addresses and, when available, its canonical name."
}

// Name returns the identifier for this tool.
func (n *NetworkTool) Name() string {
	return "network"
}

func (n *NetworkTool) Connector() *connector.Connector {
	return &connector.Connector{
		Method:      "get",
		Path:        "/network/lookup",
		Description: n.Description(),
		Parameters: []json.RawMessage{json.RawMessage(`{
			"type": "object",
			"properties": {
				"host": {"type": "string", "description": "hostname to resolve, e.g. example.com"}
			},
			"required": ["host"]
		}`)},
	}
}

// Call resolves the host named in the JSON input.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - input: JSON object such as {"host":"example.com"}
//
// Returns:
//   - string: JSON object with host, addresses and cname
//   - error: Invalid input or a failed lookup
func (n *NetworkTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := networkLogger.WithField("input", input)
	toolLogger.Info("Network tool called")
	startTime := time.Now()

	var args struct {
		Host string `json:"host"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "", err
	}
	host := strings.TrimSpace(args.Host)
	if host == "" {
		return "", fmt.Errorf("host is required")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	addrs, err := n.resolver.LookupHost(ctx, host)
	if err != nil {
		toolLogger.WithError(err).Warn("Lookup failed")
		return "", fmt.Errorf("lookup %s: %w", host, err)
	}
	cname, err := n.resolver.LookupCNAME(ctx, host)
	if err != nil {
		cname = ""
	}

	toolLogger.WithFields(logrus.Fields{
		"executionTime": time.Since(startTime),
		"addresses":     len(addrs),
	}).Info("Network lookup completed")

	out, err := json.Marshal(map[string]any{
		"host":      host,
		"addresses": addrs,
		"cname":     strings.TrimSuffix(cname, "."),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Ensure NetworkTool implements the tools.Tool interface
var _ tools.Tool = (*NetworkTool)(nil)
