package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"voice-agent-dashboard/internal/models"
)

// Client calls the ingest service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial opens an insecure connection to the ingest service at target.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection if the client opened it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// PushSegments sends one segment batch for role.
func (c *Client) PushSegments(ctx context.Context, role models.Role, segments []models.Segment) error {
	req, err := encode(SegmentsRequest{Role: role, Segments: segments})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, MethodPushSegments, req, new(emptypb.Empty))
}

// PushParticipant announces a participant update.
func (c *Client) PushParticipant(ctx context.Context, update ParticipantUpdate) error {
	req, err := encode(update)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, MethodPushParticipant, req, new(emptypb.Empty))
}

// SendText sends a typed message and returns the turn the session recorded.
func (c *Client) SendText(ctx context.Context, text string) (models.Turn, error) {
	req, err := encode(TextRequest{Text: text})
	if err != nil {
		return models.Turn{}, err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodSendText, req, resp); err != nil {
		return models.Turn{}, err
	}
	var out TextResponse
	if err := decode(resp, &out); err != nil {
		return models.Turn{}, err
	}
	return out.Turn, nil
}

// GetView returns the session view as raw JSON.
func (c *Client) GetView(ctx context.Context) (json.RawMessage, error) {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetView, new(emptypb.Empty), resp); err != nil {
		return nil, err
	}
	return protojson.Marshal(resp)
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return out, nil
}

func decode(in *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
