package interfaces

import "context"

// ObjectOwner describes who owns an on-chain object: either a single
// address or the shared pool.
type ObjectOwner struct {
	Shared       bool
	AddressOwner Address
}

// ObjectData is a read of one on-chain object with its parsed fields.
type ObjectData struct {
	ID      ObjectID
	Type    string
	Version uint64
	Owner   ObjectOwner
	// Fields holds the object's move struct fields as decoded JSON.
	Fields map[string]any
}

// ObjectRef is a created/mutated entry in transaction effects.
type ObjectRef struct {
	ID    ObjectID
	Type  string
	Owner ObjectOwner
}

// TransactionEffects is the outcome of one executed transaction. The
// created and mutated lists may diverge from the actual on-chain mutation
// shape; consumers must tolerate Created being empty and fall back to
// Mutated before declaring failure.
type TransactionEffects struct {
	Digest  TxDigest
	Status  string
	Created []ObjectRef
	Mutated []ObjectRef
}

// Succeeded reports whether the transaction executed successfully.
func (e *TransactionEffects) Succeeded() bool {
	return e.Status == "success"
}

// DynamicField is one dynamic child field of a parent object. For policy
// objects the field name carries the published blob ID.
type DynamicField struct {
	Name string
}

// ChainClient is the explicit ledger adapter. There is exactly one concrete
// client per ledger, decided at construction time; nothing patches methods
// onto it afterwards.
type ChainClient interface {
	// GetObject reads one object by ID.
	GetObject(ctx context.Context, id ObjectID) (*ObjectData, error)

	// GetOwnedObjects lists objects owned by an address, filtered by the
	// fully qualified struct type (package::module::Struct).
	GetOwnedObjects(ctx context.Context, owner Address, structType string) ([]ObjectData, error)

	// GetDynamicFields lists the dynamic child fields of a parent object.
	GetDynamicFields(ctx context.Context, parent ObjectID) ([]DynamicField, error)

	// ExecuteTransaction submits a signed transaction and returns its
	// effects.
	ExecuteTransaction(ctx context.Context, txBytes []byte, signature []byte) (*TransactionEffects, error)

	// GetBalance reads the balance of a coin type for an address.
	GetBalance(ctx context.Context, owner Address, coinType string) (uint64, error)
}

// WalletSigner abstracts the user's wallet. Every call is a suspension
// point: the wallet may prompt the user, and a rejection surfaces as an
// error which callers must not retry on their own.
type WalletSigner interface {
	// Address returns the wallet's ledger address.
	Address() Address

	// SignPersonalMessage signs an off-chain challenge message. The
	// returned envelope carries the scheme, signature, and public key so
	// that verifiers can recover the signing address.
	SignPersonalMessage(ctx context.Context, message []byte) ([]byte, error)

	// SignTransaction signs transaction bytes for execution.
	SignTransaction(ctx context.Context, txBytes []byte) ([]byte, error)
}
