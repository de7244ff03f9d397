// Package bedrock is the adapter for Anthropic models served by AWS Bedrock.
// Requests use the Messages API body, signed with SigV4 by the AWS SDK and
// sent through InvokeModel.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/tidwall/gjson"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
	"modelgate/internal/providers/anthropic"
)

const (
	providerName = "bedrock"

	// bedrockAnthropicVersion replaces the anthropic-version header, which
	// InvokeModel has no room for.
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	contentTypeJSON         = "application/json"
)

// Registration adds the backend to a providers.ProviderFactory.
var Registration = providers.Registration{
	Type: providerName,
	New: func(cfg config.APIConfig, opts providers.Options) (core.Handler, error) {
		return New(cfg, opts)
	},
}

// Invoker is the part of the Bedrock runtime client the adapter uses.
// *bedrockruntime.Client implements it.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Transport implements anthropic.Transport over InvokeModel.
type Transport struct {
	invoker Invoker
}

// NewTransport wraps invoker.
func NewTransport(invoker Invoker) *Transport {
	return &Transport{invoker: invoker}
}

// New creates the Bedrock handler for cfg. With an access key pair the
// credentials are static; without one the default AWS credential chain is
// used.
func New(cfg config.APIConfig, opts providers.Options) (*anthropic.Handler, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if r := opts.Resilience; r.MaxRetries > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(r.MaxRetries+1))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		gwErr := core.NewInvalidRequestError("load AWS configuration: "+err.Error(), err)
		return nil, gwErr.WithContext(providerName, cfg.ModelID, core.StageConfigure)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
	})
	return NewWithInvoker(cfg.ModelID, client, opts)
}

// NewWithInvoker creates the handler around an arbitrary invoker. An empty
// modelID selects the registry default.
func NewWithInvoker(modelID string, invoker Invoker, opts providers.Options) (*anthropic.Handler, error) {
	return anthropic.NewHandler(anthropic.HandlerConfig{
		Provider:  providerName,
		Registry:  modeldata.Bedrock,
		ModelID:   modelID,
		Transport: NewTransport(invoker),
		Logger:    opts.Log(),
		Wire:      toWire,
	})
}

// toWire turns a Messages API request into the InvokeModel body: the model
// moves to the ModelId parameter and the API version into the body.
func toWire(req *anthropic.MessagesRequest) {
	req.Model = ""
	req.AnthropicVersion = bedrockAnthropicVersion
	req.Betas = nil
}

// CreateMessage implements anthropic.Transport.
func (t *Transport) CreateMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	modelID := req.Model
	wire := *req
	toWire(&wire)

	body, err := json.Marshal(&wire)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal request", err)
	}

	out, err := t.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String(contentTypeJSON),
		Accept:      aws.String(contentTypeJSON),
	})
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if !gjson.ValidBytes(out.Body) {
		return nil, core.NewBackendTransportError(providerName, http.StatusBadGateway, "reply is not valid JSON", nil)
	}
	if kind := gjson.GetBytes(out.Body, "type"); kind.Exists() && kind.String() != "message" {
		return nil, core.ParseProviderError(providerName, http.StatusBadGateway, out.Body, nil)
	}

	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, core.NewBackendTransportError(providerName, http.StatusBadGateway, "failed to decode reply", err)
	}
	return &resp, nil
}

// transportError maps an AWS SDK failure to a backend transport error,
// keeping the upstream HTTP status and error message when there is one.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return core.NewBackendTransportError(providerName, http.StatusGatewayTimeout, ctxErr.Error(), fmt.Errorf("%w: %w", ctxErr, err))
	}

	status := http.StatusBadGateway
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	message := err.Error()
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		message = fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}

	body, _ := json.Marshal(map[string]string{"message": message})
	return core.ParseProviderError(providerName, status, body, err)
}
