package aws

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient wraps the Bedrock runtime for synchronous and streamed
// model invocations. Payloads are raw model-native JSON bodies.
type BedrockClient struct {
	client *bedrockruntime.Client
}

func NewBedrockClient(ctx context.Context, region string) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &BedrockClient{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockClient) Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error) {
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (b *BedrockClient) InvokeStream(ctx context.Context, modelID string, payload []byte) (*bedrockruntime.InvokeModelWithResponseStreamEventStream, error) {
	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// ModelStream exposes a response stream as a sequence of raw chunk payloads.
type ModelStream struct {
	stream *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

// Recv returns the next chunk payload, or io.EOF when the stream ends.
func (s *ModelStream) Recv() ([]byte, error) {
	for {
		event, ok := <-s.stream.Events()
		if !ok {
			if err := s.stream.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if chunk, isChunk := event.(*types.ResponseStreamMemberChunk); isChunk {
			return chunk.Value.Bytes, nil
		}
	}
}

func (s *ModelStream) Close() error {
	return s.stream.Close()
}

// OpenStream starts a streamed invocation and wraps it as a ModelStream.
func (b *BedrockClient) OpenStream(ctx context.Context, modelID string, payload []byte) (*ModelStream, error) {
	stream, err := b.InvokeStream(ctx, modelID, payload)
	if err != nil {
		return nil, err
	}
	return &ModelStream{stream: stream}, nil
}
