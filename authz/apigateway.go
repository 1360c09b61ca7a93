package authz

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"
)

const (
	policyVersion = "2012-10-17"
	invokeAction  = "execute-api:Invoke"
)

// APIGatewayResponse renders a decision as an API Gateway authorizer policy.
// Denials are expressed as a Deny statement rather than an error, so the
// gateway answers 403 instead of 401/500.
func APIGatewayResponse(d Decision) events.APIGatewayCustomAuthorizerResponse {
	resource := d.Resource
	if resource == "" {
		resource = "*"
	}

	resp := events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: d.PrincipalID,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{
				{
					Action:   []string{invokeAction},
					Effect:   string(d.Effect),
					Resource: []string{resource},
				},
			},
		},
	}

	if d.Allowed() && d.Token != nil {
		resp.Context = map[string]interface{}{
			"sub": d.Token.Subject,
			"iss": d.Token.Issuer,
		}
	}

	return resp
}

// LambdaHandler serves API Gateway TOKEN authorizer requests
type LambdaHandler struct {
	auth     Authenticator
	recorder DecisionRecorder
	logger   *zap.Logger
}

// NewLambdaHandler creates a LambdaHandler. recorder may be nil.
func NewLambdaHandler(auth Authenticator, recorder DecisionRecorder, logger *zap.Logger) *LambdaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LambdaHandler{
		auth:     auth,
		recorder: recorder,
		logger:   logger,
	}
}

// Handle validates the request token and returns an allow or deny policy.
// It never returns an error for a rejected token.
func (h *LambdaHandler) Handle(ctx context.Context, req events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	outcome := h.auth.Authenticate(ctx, req.AuthorizationToken)
	decision := Decide(outcome, req.MethodArn)

	meta := Metadata{}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		meta.RequestID = lc.AwsRequestID
	}

	fields := []zap.Field{
		zap.String("request_id", meta.RequestID),
		zap.String("effect", string(decision.Effect)),
		zap.String("principal_id", decision.PrincipalID),
		zap.String("resource", decision.Resource),
	}
	if decision.Allowed() {
		h.logger.Info("request authorized", fields...)
	} else {
		h.logger.Warn("request denied", append(fields, zap.String("reason", string(decision.Reason)))...)
	}

	if h.recorder != nil {
		h.recorder.Record(ctx, decision, meta)
	}

	return APIGatewayResponse(decision), nil
}
