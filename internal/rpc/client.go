// Package rpc is the client of the daemon's Inbox service.
package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return NewFromConn(conn), nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.call(ctx, api.MethodStatus, struct{}{}, &out)
	return out, err
}

func (c *Client) Conversations(ctx context.Context, email string) (api.ListResponse, error) {
	var out api.ListResponse
	err := c.call(ctx, api.MethodConversations, api.ListRequest{Email: email}, &out)
	return out, err
}

func (c *Client) LoadMoreConversations(ctx context.Context, email string, page int) (api.ListResponse, error) {
	var out api.ListResponse
	err := c.call(ctx, api.MethodLoadMoreConversations, api.ListRequest{Email: email, Page: page}, &out)
	return out, err
}

func (c *Client) Messages(ctx context.Context, conversationID model.ID) (api.ListResponse, error) {
	var out api.ListResponse
	err := c.call(ctx, api.MethodMessages, api.ListRequest{ConversationID: conversationID}, &out)
	return out, err
}

func (c *Client) LoadMoreMessages(ctx context.Context, conversationID model.ID, page int) (api.ListResponse, error) {
	var out api.ListResponse
	err := c.call(ctx, api.MethodLoadMoreMessages, api.ListRequest{ConversationID: conversationID, Page: page}, &out)
	return out, err
}

func (c *Client) FindConversation(ctx context.Context, a, b string) (api.FindConversationResponse, error) {
	var out api.FindConversationResponse
	err := c.call(ctx, api.MethodFindConversation, api.FindConversationRequest{A: a, B: b}, &out)
	return out, err
}

func (c *Client) CreateConversation(ctx context.Context, req api.WriteRequest) (model.Conversation, error) {
	var out api.WriteResponse
	err := c.call(ctx, api.MethodCreateConversation, req, &out)
	return out.Conversation, err
}

func (c *Client) EditConversation(ctx context.Context, req api.WriteRequest) (model.Conversation, error) {
	var out api.WriteResponse
	err := c.call(ctx, api.MethodEditConversation, req, &out)
	return out.Conversation, err
}

func (c *Client) Send(ctx context.Context, req api.WriteRequest) (model.Conversation, error) {
	var out api.WriteResponse
	err := c.call(ctx, api.MethodSend, req, &out)
	return out.Conversation, err
}

func (c *Client) PushChannels(ctx context.Context) (api.PushChannelsResponse, error) {
	var out api.PushChannelsResponse
	err := c.call(ctx, api.MethodPushChannels, struct{}{}, &out)
	return out, err
}

// WatchEntry calls fn with every update of one list entry until ctx ends,
// the stream fails or fn returns an error.
func (c *Client) WatchEntry(ctx context.Context, req api.WatchEntryRequest, fn func(api.ListResponse) error) error {
	return c.stream(ctx, api.MethodWatchEntry, req, func(s *structpb.Struct) error {
		var out api.ListResponse
		if err := api.Decode(s, &out); err != nil {
			return err
		}
		return fn(out)
	})
}

// WatchEvents calls fn with every daemon event under namespace.
func (c *Client) WatchEvents(ctx context.Context, namespace string, fn func(api.EventEnvelope) error) error {
	return c.stream(ctx, api.MethodWatchEvents, api.WatchEventsRequest{Namespace: namespace}, func(s *structpb.Struct) error {
		var out api.EventEnvelope
		if err := api.Decode(s, &out); err != nil {
			return err
		}
		return fn(out)
	})
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, resp); err != nil {
		return err
	}
	return api.Decode(resp, out)
}

func (c *Client) stream(ctx context.Context, method string, req any, fn func(*structpb.Struct) error) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := c.conn.NewStream(ctx, desc, api.FullMethod(method))
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
