package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/codayhq/coday/agent"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/model/anthropic"
	"github.com/codayhq/coday/model/bedrock"
	"github.com/codayhq/coday/model/openai"
)

// Provider names accepted in an agent definition's modelProvider field.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderBedrock   = "bedrock"
)

// ModelResolver binds an agent.Definition's model fields to a concrete
// model.Client. Clients are wrapped with model.WithRetry and pooled per
// (provider, model, maxTokens) so agents sharing a binding share a
// connection. It implements
// agentregistry.ModelResolver.
type ModelResolver struct {
	// env overrides environment lookup, for tests. Defaults to os.Getenv.
	env func(string) string

	mu    sync.Mutex
	cache map[string]model.Client
}

// NewModelResolver constructs a resolver reading credentials from the
// process environment (ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_*).
func NewModelResolver() *ModelResolver {
	return &ModelResolver{env: os.Getenv, cache: make(map[string]model.Client)}
}

// Resolve implements agentregistry.ModelResolver. An assistantId, when
// present, pins the definition to the hosted-assistant vendor (Bedrock)
// regardless of its declared modelProvider, and is used as the model or
// inference-profile id.
func (r *ModelResolver) Resolve(def agent.Definition) (model.Client, error) {
	provider := strings.ToLower(def.ModelProvider)
	modelName := def.ModelName
	if def.AssistantID != "" {
		provider = ProviderBedrock
		modelName = def.AssistantID
	}
	if provider == "" {
		provider = ProviderAnthropic
	}

	key := fmt.Sprintf("%s|%s|%d", provider, modelName, def.MaxTokens)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[key]; ok {
		return c, nil
	}

	c, err := r.build(provider, modelName, def.MaxTokens)
	if err != nil {
		return nil, err
	}
	c = model.WithRetry(c, model.DefaultRetryOptions())
	r.cache[key] = c
	return c, nil
}

func (r *ModelResolver) build(provider, modelName string, maxTokens int) (model.Client, error) {
	switch provider {
	case ProviderAnthropic:
		apiKey := r.env("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("config: ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewFromAPIKey(apiKey, modelName, maxTokens)

	case ProviderOpenAI:
		apiKey := r.env("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("config: OPENAI_API_KEY is not set")
		}
		return openai.NewFromAPIKey(apiKey, modelName, maxTokens)

	case ProviderBedrock:
		region := r.env("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		accessKey := r.env("AWS_ACCESS_KEY_ID")
		secretKey := r.env("AWS_SECRET_ACCESS_KEY")
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("config: AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY are not set")
		}
		sessionToken := r.env("AWS_SESSION_TOKEN")
		rt := bedrockruntime.New(bedrockruntime.Options{
			Region: region,
			Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
					SessionToken:    sessionToken,
					Source:          "coday environment",
				}, nil
			}),
		})
		return bedrock.New(rt, modelName, maxTokens)

	default:
		return nil, fmt.Errorf("config: unknown model provider %q", provider)
	}
}
