// Package client is an Arrow Flight client that follows FORWARD_REQUIRED
// redirects issued by sharded Flight servers.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	maxRedirects = 3
	maxMsgSize   = 100 * 1024 * 1024
)

// SmartClient keeps one Flight connection per address and retries a call
// against the node named in a redirect.
type SmartClient struct {
	mu          sync.RWMutex
	primaryAddr string
	clients     map[string]flight.Client
	dialOpts    []grpc.DialOption
}

// NewSmartClient dials addr. Extra dial options are appended to the defaults.
func NewSmartClient(addr string, opts ...grpc.DialOption) (*SmartClient, error) {
	sc := &SmartClient{
		primaryAddr: addr,
		clients:     make(map[string]flight.Client),
		dialOpts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMsgSize),
				grpc.MaxCallSendMsgSize(maxMsgSize),
			),
		}, opts...),
	}

	if _, err := sc.getClient(addr); err != nil {
		return nil, err
	}
	return sc, nil
}

// Addr returns the primary address.
func (c *SmartClient) Addr() string { return c.primaryAddr }

// Close closes all connections.
func (c *SmartClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for addr, client := range c.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.clients, addr)
	}
	return firstErr
}

func (c *SmartClient) getClient(addr string) (flight.Client, error) {
	c.mu.RLock()
	client, ok := c.clients[addr]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[addr]; ok {
		return client, nil
	}

	newClient, err := flight.NewClientWithMiddleware(addr, nil, nil, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	c.clients[addr] = newClient
	return newClient, nil
}

// follow runs call against the primary node and then against each redirect
// target, up to maxRedirects attempts.
func follow[T any](c *SmartClient, call func(flight.Client) (T, error)) (T, error) {
	var zero T
	addr := c.primaryAddr
	for attempt := 0; attempt < maxRedirects; attempt++ {
		client, err := c.getClient(addr)
		if err != nil {
			return zero, err
		}

		res, err := call(client)
		if err == nil {
			return res, nil
		}

		fwd := IsForwardRequired(err)
		if fwd == nil {
			return zero, err
		}
		if fwd.TargetAddr == "" {
			return zero, fmt.Errorf("redirect with empty address")
		}
		addr = fwd.TargetAddr
	}
	return zero, fmt.Errorf("max redirects exceeded")
}

// DoGet opens a DoGet stream for ticket.
func (c *SmartClient) DoGet(ctx context.Context, ticket []byte) (flight.FlightService_DoGetClient, error) {
	return follow(c, func(fc flight.Client) (flight.FlightService_DoGetClient, error) {
		return fc.DoGet(ctx, &flight.Ticket{Ticket: ticket})
	})
}

// DoGetRecords streams the records answering ticket into fn. The stream is
// consumed inside the redirect loop, so a redirect raised on the first
// message is still followed. fn must not retain records past its return.
func (c *SmartClient) DoGetRecords(ctx context.Context, ticket []byte, fn func(arrow.Record) error) error {
	_, err := follow(c, func(fc flight.Client) (struct{}, error) {
		stream, err := fc.DoGet(ctx, &flight.Ticket{Ticket: ticket})
		if err != nil {
			return struct{}{}, err
		}
		rdr, err := flight.NewRecordReader(stream)
		if err != nil {
			if isEOF(err) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		}
		defer rdr.Release()

		for rdr.Next() {
			if err := fn(rdr.Record()); err != nil {
				return struct{}{}, err
			}
		}
		if err := rdr.Err(); err != nil && !isEOF(err) {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

// DoPut opens a DoPut stream. Redirects are only observed when the stream
// itself fails to open.
func (c *SmartClient) DoPut(ctx context.Context) (flight.FlightService_DoPutClient, error) {
	return follow(c, func(fc flight.Client) (flight.FlightService_DoPutClient, error) {
		return fc.DoPut(ctx)
	})
}

// GetFlightInfo returns metadata for desc.
func (c *SmartClient) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	return follow(c, func(fc flight.Client) (*flight.FlightInfo, error) {
		return fc.GetFlightInfo(ctx, desc)
	})
}

// ListFlights collects every FlightInfo the server advertises.
func (c *SmartClient) ListFlights(ctx context.Context) ([]*flight.FlightInfo, error) {
	return follow(c, func(fc flight.Client) ([]*flight.FlightInfo, error) {
		stream, err := fc.ListFlights(ctx, &flight.Criteria{})
		if err != nil {
			return nil, err
		}
		var infos []*flight.FlightInfo
		for {
			info, err := stream.Recv()
			if err != nil {
				if isEOF(err) {
					return infos, nil
				}
				return nil, err
			}
			infos = append(infos, info)
		}
	})
}

// DoAction runs a named action and returns the concatenated result bodies.
func (c *SmartClient) DoAction(ctx context.Context, actionType string, body []byte) ([][]byte, error) {
	return follow(c, func(fc flight.Client) ([][]byte, error) {
		stream, err := fc.DoAction(ctx, &flight.Action{Type: actionType, Body: body})
		if err != nil {
			return nil, err
		}
		var out [][]byte
		for {
			res, err := stream.Recv()
			if err != nil {
				if isEOF(err) {
					return out, nil
				}
				return nil, err
			}
			out = append(out, res.GetBody())
		}
	})
}
