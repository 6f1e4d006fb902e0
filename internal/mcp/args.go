package mcp

import (
	"context"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/memory"
)

type handlerFunc func(ctx context.Context, args map[string]interface{}) memory.Envelope

// decodeArgs fills out from raw tool arguments. Input is weakly typed since
// JSON numbers arrive as float64 and some clients send booleans as strings.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

func userOf(args map[string]interface{}) string {
	if v, ok := args["user_id"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// bind adapts a service operation to raw tool arguments
func bind[T any](svc *memory.Service, tool string, op func(context.Context, T) memory.Envelope) handlerFunc {
	return func(ctx context.Context, args map[string]interface{}) memory.Envelope {
		var in T
		if err := decodeArgs(args, &in); err != nil {
			return svc.Reject(ctx, tool, userOf(args), mcperrors.NewInvalidArgumentError("arguments", err.Error(), nil))
		}
		return op(ctx, in)
	}
}
