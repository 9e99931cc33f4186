package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/gftdcojp/storage-tiers/internal/tier"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NameRequest is the body of every NATS read request.
type NameRequest struct {
	Name string `json:"name"`
}

// RunNATSResponder answers capacity report reads over NATS request-reply.
// Subject pattern: {prefix}.{op}.{system} where op is read_tier,
// read_policy or get_policy_pools; the body is {"name": "..."}. Requests
// carry the API token in an "Authorization: Bearer <token>" header.
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.APIConfig, svc *tier.Service, logger *zap.Logger) error {
	prefix := cfg.NATSResponder.SubjectPrefix
	if prefix == "" {
		prefix = "tiers"
	}

	ops := map[string]func(ctx context.Context, system, name string) (interface{}, error){
		"read_tier": func(ctx context.Context, system, name string) (interface{}, error) {
			return svc.ReadTier(ctx, system, name)
		},
		"read_policy": func(ctx context.Context, system, name string) (interface{}, error) {
			return svc.ReadPolicy(ctx, system, name)
		},
		"get_policy_pools": func(ctx context.Context, system, name string) (interface{}, error) {
			return svc.GetPolicyPools(ctx, system, name)
		},
	}

	// Subscribe to: tiers.*.*
	subject := prefix + ".*.*"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		parts := strings.Split(strings.TrimPrefix(msg.Subject, prefix+"."), ".")
		// Expected: {op}.{system}
		if len(parts) != 2 {
			respond(msg, nil, fmt.Errorf("%w: invalid subject %s", tier.ErrBadRequest, msg.Subject))
			return
		}
		op, system := parts[0], parts[1]

		if msg.Header == nil || !authorized(msg.Header.Get("Authorization"), cfg.AuthToken) {
			metrics.AdminOps.WithLabelValues(op, CodeUnauthorized).Inc()
			data, _ := json.Marshal(unauthorizedReply)
			msg.Respond(data)
			return
		}

		fn, ok := ops[op]
		if !ok {
			respond(msg, nil, fmt.Errorf("%w: operation %s", tier.ErrUnsupported, op))
			return
		}

		var req NameRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respond(msg, nil, fmt.Errorf("%w: decoding request: %v", tier.ErrBadRequest, err))
			return
		}

		info, err := fn(ctx, system, req.Name)
		observe(op, err)
		if err != nil && tier.Code(err) == tier.CodeInternal {
			logger.Error("NATS read failed", zap.String("op", op), zap.String("system", system), zap.Error(err))
		}
		respond(msg, info, err)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	logger.Info("NATS responder started", zap.String("subject", subject))

	<-ctx.Done()
	sub.Unsubscribe()
	return nil
}

func respond(msg *nats.Msg, v interface{}, err error) {
	if err != nil {
		v = newErrorReply(err)
	}
	data, _ := json.Marshal(v)
	msg.Respond(data)
}
