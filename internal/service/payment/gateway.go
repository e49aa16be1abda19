package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/util"
)

// GatewayResult is the outcome of one gateway call. Success=false carries a decline Code.
type GatewayResult struct {
	Success       bool
	TransactionID string
	Code          string
	Message       string
}

// Gateway charges and refunds through one payment channel. A returned error
// means the call itself failed; a decline is a GatewayResult with Success=false.
type Gateway interface {
	Charge(ctx context.Context, amount int64) (GatewayResult, error)
	Refund(ctx context.Context, transactionID string, amount int64) (GatewayResult, error)
}

// Method describes a payment method offered to customers.
type Method struct {
	Method      model.PaymentMethod `json:"method"`
	Label       string              `json:"label"`
	Description string              `json:"description"`
}

// ManualGateway records payments taken outside the system (cash desk, bank statement).
type ManualGateway struct {
	Prefix string
}

func (g ManualGateway) Charge(ctx context.Context, _ int64) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	return GatewayResult{Success: true, TransactionID: util.NewRef(g.Prefix), Message: "Payment recorded successfully"}, nil
}

func (g ManualGateway) Refund(ctx context.Context, _ string, _ int64) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	return GatewayResult{Success: true, TransactionID: util.NewRef(g.Prefix + "ref"), Message: "Refund processed successfully"}, nil
}

// SimulatedGateway approves charges except for a random FailureRate share, declined with DeclineCode.
type SimulatedGateway struct {
	Prefix      string
	FailureRate float64
	DeclineCode string
	Rand        func() float64 // nil = math/rand/v2
}

func (g SimulatedGateway) roll() float64 {
	if g.Rand != nil {
		return g.Rand()
	}
	return rand.Float64()
}

func (g SimulatedGateway) Charge(ctx context.Context, _ int64) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	if g.roll() < g.FailureRate {
		code := g.DeclineCode
		if code == "" {
			code = "DECLINED"
		}
		return GatewayResult{Code: code, Message: "Payment was declined"}, nil
	}
	return GatewayResult{Success: true, TransactionID: util.NewRef(g.Prefix), Message: "Payment processed successfully"}, nil
}

func (g SimulatedGateway) Refund(ctx context.Context, _ string, _ int64) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	return GatewayResult{Success: true, TransactionID: util.NewRef(g.Prefix + "ref"), Message: "Refund processed successfully"}, nil
}

// GatewaysFromConfig resolves the method table once. Methods absent from cfg are unsupported.
func GatewaysFromConfig(cfg map[string]config.GatewayConfig) (map[model.PaymentMethod]Gateway, []Method, error) {
	gateways := make(map[model.PaymentMethod]Gateway, len(cfg))
	methods := make([]Method, 0, len(cfg))

	for name, gc := range cfg {
		m, ok := model.ParsePaymentMethod(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown payment method %q", name)
		}
		switch gc.Gateway {
		case "manual":
			gateways[m] = ManualGateway{Prefix: gc.Prefix}
		case "simulated":
			gateways[m] = SimulatedGateway{Prefix: gc.Prefix, FailureRate: gc.FailureRate, DeclineCode: gc.DeclineCode}
		default:
			return nil, nil, fmt.Errorf("payment method %s: unknown gateway %q", name, gc.Gateway)
		}
		label := gc.Label
		if label == "" {
			label = m.String()
		}
		methods = append(methods, Method{Method: m, Label: label, Description: gc.Description})
	}

	sort.Slice(methods, func(i, j int) bool { return methods[i].Method < methods[j].Method })
	return gateways, methods, nil
}
