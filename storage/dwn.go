package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/world-registry/interfaces"
)

// DWNProcessMessage is the JSON-RPC method accepting DWN messages.
const DWNProcessMessage = "dwn.processMessage"

const jsonRPCInternalError = -32603

// DWNStore submits signed messages to a remote DWN over JSON-RPC 2.0.
// The remote node enforces uniqueness and validates definitions.
type DWNStore struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// NewDWNStore creates a store posting to the JSON-RPC endpoint URL.
// A nil client selects a pooled client with default transport settings.
func NewDWNStore(endpoint string, client *http.Client, log *slog.Logger) *DWNStore {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &DWNStore{
		endpoint: endpoint,
		client:   client,
		log:      log,
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Result  *dwnRPCResult `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type dwnRPCResult struct {
	Reply dwnReply `json:"reply"`
}

type dwnReply struct {
	Status  dwnStatus    `json:"status"`
	Entries []dwnMessage `json:"entries,omitempty"`
}

type dwnStatus struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

// dwnMessage is the wire form of a signed message.
type dwnMessage struct {
	Descriptor    interfaces.MessageDescriptor `json:"descriptor"`
	Authorization string                       `json:"authorization"`
}

type processMessageParams struct {
	Target  string     `json:"target"`
	Message dwnMessage `json:"message"`
}

func (s *DWNStore) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	reply, err := s.process(ctx, query.Target, dwnMessage{
		Descriptor:    query.Descriptor(),
		Authorization: query.Authorization,
	})
	if err != nil {
		return nil, err
	}
	if err := statusError(reply.Status); err != nil {
		return nil, err
	}

	out := make([]interfaces.ProtocolEntry, 0, len(reply.Entries))
	for i, msg := range reply.Entries {
		if msg.Descriptor.Definition == nil {
			return nil, fmt.Errorf("dwn reply entry %d has no definition", i)
		}
		created, err := time.Parse(interfaces.TimestampFormat, msg.Descriptor.MessageTimestamp)
		if err != nil {
			created, _ = time.Parse(time.RFC3339Nano, msg.Descriptor.MessageTimestamp)
		}
		entry := interfaces.ProtocolEntry{
			Target:        query.Target,
			Protocol:      msg.Descriptor.Definition.Protocol,
			Version:       msg.Descriptor.ProtocolVersion,
			Definition:    *msg.Descriptor.Definition,
			Authorization: msg.Authorization,
			DateCreated:   created.UTC(),
		}
		if query.Filter.Matches(entry.Protocol, entry.Version) {
			out = append(out, entry)
		}
	}

	sortEntries(out)
	return out, nil
}

func (s *DWNStore) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if err := validateConfigure(msg); err != nil {
		return err
	}

	reply, err := s.process(ctx, msg.Target, dwnMessage{
		Descriptor:    msg.Descriptor(),
		Authorization: msg.Authorization,
	})
	if err != nil {
		return err
	}
	return statusError(reply.Status)
}

func (s *DWNStore) Name() string {
	return "dwn"
}

func (s *DWNStore) process(ctx context.Context, target string, msg dwnMessage) (*dwnReply, error) {
	id := uuid.NewString()
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  DWNProcessMessage,
		Params:  processMessageParams{Target: target, Message: msg},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", interfaces.ErrDefinitionRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build dwn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read dwn response: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.log.Debug("DWN request completed",
		slog.String("id", id),
		slog.String("method", msg.Descriptor.Interface+msg.Descriptor.Method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: dwn responded %s", interfaces.ErrStoreUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: dwn responded %s", interfaces.ErrDefinitionRejected, resp.Status)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode dwn response: %w", err)
	}
	if rpcResp.ID != id {
		return nil, fmt.Errorf("dwn response id %q does not match request %q", rpcResp.ID, id)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == jsonRPCInternalError {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrStoreUnavailable, rpcResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: rpc error %d: %s", interfaces.ErrDefinitionRejected, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, errors.New("dwn response has neither result nor error")
	}
	return &rpcResp.Result.Reply, nil
}

// statusError maps a DWN reply status onto the store error taxonomy.
func statusError(status dwnStatus) error {
	switch {
	case status.Code >= 200 && status.Code < 300:
		return nil
	case status.Code == http.StatusConflict:
		return interfaces.ErrProtocolExists
	case status.Code >= 500:
		return fmt.Errorf("%w: %d %s", interfaces.ErrStoreUnavailable, status.Code, status.Detail)
	default:
		return fmt.Errorf("%w: %d %s", interfaces.ErrDefinitionRejected, status.Code, status.Detail)
	}
}
