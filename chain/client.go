package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/xhare/sealshare/interfaces"
)

// Client implements interfaces.ChainClient against a ledger JSON-RPC
// endpoint. It is the single concrete ledger adapter; construction decides
// the implementation and nothing reshapes it afterwards.
type Client struct {
	rpc *rpc.Client
	log *slog.Logger
}

// Dial connects to the ledger RPC endpoint.
func Dial(ctx context.Context, rpcURL string, log *slog.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("could not dial ledger rpc: %w", err)
	}
	return &Client{rpc: c, log: log}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

type rpcOwner struct {
	AddressOwner string          `json:"AddressOwner,omitempty"`
	Shared       json.RawMessage `json:"Shared,omitempty"`
}

type rpcObjectContent struct {
	Fields map[string]any `json:"fields"`
}

type rpcObjectData struct {
	ObjectID string            `json:"objectId"`
	Version  string            `json:"version"`
	Type     string            `json:"type"`
	Owner    *rpcOwner         `json:"owner"`
	Content  *rpcObjectContent `json:"content"`
}

type rpcObjectResponse struct {
	Data *rpcObjectData `json:"data"`
}

func (d *rpcObjectData) toObjectData() (*interfaces.ObjectData, error) {
	id, err := interfaces.NewObjectIDFromHex(d.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("malformed object id in response: %w", err)
	}
	version, _ := strconv.ParseUint(d.Version, 10, 64)
	out := &interfaces.ObjectData{
		ID:      id,
		Type:    d.Type,
		Version: version,
	}
	if d.Owner != nil {
		if len(d.Owner.Shared) > 0 {
			out.Owner.Shared = true
		} else if d.Owner.AddressOwner != "" {
			addr, err := interfaces.NewAddress(d.Owner.AddressOwner)
			if err != nil {
				return nil, fmt.Errorf("malformed owner in response: %w", err)
			}
			out.Owner.AddressOwner = addr
		}
	}
	if d.Content != nil {
		out.Fields = d.Content.Fields
	}
	return out, nil
}

// GetObject reads one object by ID.
func (c *Client) GetObject(ctx context.Context, id interfaces.ObjectID) (*interfaces.ObjectData, error) {
	var resp rpcObjectResponse
	options := map[string]bool{"showContent": true, "showType": true, "showOwner": true}
	if err := c.rpc.CallContext(ctx, &resp, "sui_getObject", id.String(), options); err != nil {
		return nil, fmt.Errorf("object read failed: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("object %s not found", id)
	}
	return resp.Data.toObjectData()
}

type rpcOwnedObjectsPage struct {
	Data        []rpcObjectResponse `json:"data"`
	HasNextPage bool                `json:"hasNextPage"`
	NextCursor  string              `json:"nextCursor"`
}

// GetOwnedObjects lists objects owned by an address, filtered by struct
// type. Pagination is followed to exhaustion.
func (c *Client) GetOwnedObjects(ctx context.Context, owner interfaces.Address, structType string) ([]interfaces.ObjectData, error) {
	query := map[string]any{
		"filter":  map[string]string{"StructType": structType},
		"options": map[string]bool{"showContent": true, "showType": true, "showOwner": true},
	}

	var out []interfaces.ObjectData
	var cursor any
	for {
		var page rpcOwnedObjectsPage
		if err := c.rpc.CallContext(ctx, &page, "suix_getOwnedObjects", owner.String(), query, cursor); err != nil {
			return nil, fmt.Errorf("owned objects read failed: %w", err)
		}
		for _, entry := range page.Data {
			if entry.Data == nil {
				continue
			}
			obj, err := entry.Data.toObjectData()
			if err != nil {
				c.log.Warn("Skipping malformed owned object", "err", err)
				continue
			}
			out = append(out, *obj)
		}
		if !page.HasNextPage || page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

type rpcDynamicFieldName struct {
	Value any `json:"value"`
}

type rpcDynamicField struct {
	Name rpcDynamicFieldName `json:"name"`
}

type rpcDynamicFieldsPage struct {
	Data        []rpcDynamicField `json:"data"`
	HasNextPage bool              `json:"hasNextPage"`
	NextCursor  string            `json:"nextCursor"`
}

// GetDynamicFields lists the dynamic child fields of a parent object.
func (c *Client) GetDynamicFields(ctx context.Context, parent interfaces.ObjectID) ([]interfaces.DynamicField, error) {
	var out []interfaces.DynamicField
	var cursor any
	for {
		var page rpcDynamicFieldsPage
		if err := c.rpc.CallContext(ctx, &page, "suix_getDynamicFields", parent.String(), cursor); err != nil {
			return nil, fmt.Errorf("dynamic fields read failed: %w", err)
		}
		for _, field := range page.Data {
			name, ok := field.Name.Value.(string)
			if !ok {
				continue
			}
			out = append(out, interfaces.DynamicField{Name: name})
		}
		if !page.HasNextPage || page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

type rpcEffectsStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type rpcObjectRef struct {
	Owner     *rpcOwner `json:"owner"`
	Reference struct {
		ObjectID string `json:"objectId"`
		Type     string `json:"type"`
	} `json:"reference"`
}

type rpcEffects struct {
	Status  rpcEffectsStatus `json:"status"`
	Created []rpcObjectRef   `json:"created"`
	Mutated []rpcObjectRef   `json:"mutated"`
}

type rpcExecuteResponse struct {
	Digest  string     `json:"digest"`
	Effects rpcEffects `json:"effects"`
}

func convertRefs(refs []rpcObjectRef) []interfaces.ObjectRef {
	out := make([]interfaces.ObjectRef, 0, len(refs))
	for _, ref := range refs {
		id, err := interfaces.NewObjectIDFromHex(ref.Reference.ObjectID)
		if err != nil {
			continue
		}
		converted := interfaces.ObjectRef{ID: id, Type: ref.Reference.Type}
		if ref.Owner != nil {
			if len(ref.Owner.Shared) > 0 {
				converted.Owner.Shared = true
			} else if ref.Owner.AddressOwner != "" {
				if addr, err := interfaces.NewAddress(ref.Owner.AddressOwner); err == nil {
					converted.Owner.AddressOwner = addr
				}
			}
		}
		out = append(out, converted)
	}
	return out
}

// ExecuteTransaction submits a signed transaction and returns its effects.
func (c *Client) ExecuteTransaction(ctx context.Context, txBytes []byte, signature []byte) (*interfaces.TransactionEffects, error) {
	var resp rpcExecuteResponse
	options := map[string]bool{"showEffects": true, "showRawEffects": true}
	err := c.rpc.CallContext(ctx, &resp, "sui_executeTransactionBlock",
		base64.StdEncoding.EncodeToString(txBytes),
		[]string{base64.StdEncoding.EncodeToString(signature)},
		options)
	if err != nil {
		return nil, fmt.Errorf("transaction execution failed: %w", err)
	}
	if resp.Effects.Status.Status != "success" {
		return nil, fmt.Errorf("transaction %s failed: %s", resp.Digest, resp.Effects.Status.Error)
	}
	return &interfaces.TransactionEffects{
		Digest:  interfaces.TxDigest(resp.Digest),
		Status:  resp.Effects.Status.Status,
		Created: convertRefs(resp.Effects.Created),
		Mutated: convertRefs(resp.Effects.Mutated),
	}, nil
}

type rpcBalance struct {
	TotalBalance string `json:"totalBalance"`
}

// GetBalance reads the balance of a coin type for an address.
func (c *Client) GetBalance(ctx context.Context, owner interfaces.Address, coinType string) (uint64, error) {
	var resp rpcBalance
	if err := c.rpc.CallContext(ctx, &resp, "suix_getBalance", owner.String(), coinType); err != nil {
		return 0, fmt.Errorf("balance read failed: %w", err)
	}
	balance, err := strconv.ParseUint(resp.TotalBalance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed balance %q: %w", resp.TotalBalance, err)
	}
	return balance, nil
}
