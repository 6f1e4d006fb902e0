package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/protocol"
	"gopkg.in/yaml.v3"
)

// Resource URIs
const (
	ResourceHealth = "memory://health"
	ResourceConfig = "memory://config"
)

func (ms *MemoryServer) registerResources() {
	resources := []struct {
		uri         string
		name        string
		description string
		mimeType    string
		read        func(ctx context.Context) (string, error)
	}{
		{
			uri:         ResourceHealth,
			name:        "Health",
			description: "Status of the memory store and its supporting services",
			mimeType:    "application/json",
			read:        ms.readHealth,
		},
		{
			uri:         ResourceConfig,
			name:        "Configuration",
			description: "Effective server configuration with secrets masked",
			mimeType:    "application/yaml",
			read:        ms.readConfig,
		},
	}

	for _, res := range resources {
		read := res.read
		ms.mcpServer.AddResource(
			mcp.NewResource(res.uri, res.name, res.description, res.mimeType),
			mcp.ResourceHandlerFunc(func(ctx context.Context, uri string) ([]protocol.Content, error) {
				text, err := read(ctx)
				if err != nil {
					ms.logger.Error("Resource read failed", "uri", uri, "error", err)
					return nil, err
				}
				return []protocol.Content{protocol.NewContent(text)}, nil
			}),
		)
	}
}

func (ms *MemoryServer) readHealth(ctx context.Context) (string, error) {
	data, err := json.Marshal(ms.service.Health(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to marshal health report: %w", err)
	}
	return string(data), nil
}

func (ms *MemoryServer) readConfig(_ context.Context) (string, error) {
	data, err := yaml.Marshal(ms.config.Redacted())
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
