package domain

// Owner is any entity that holds tokens.
//
// OwnerID returns an empty string while the owner has no durable identity.
type Owner interface {
	OwnerType() string
	OwnerID() string
}

// OwnerRef identifies an owner by type and id without loading it.
type OwnerRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// OwnerType implements Owner.
func (r OwnerRef) OwnerType() string { return r.Type }

// OwnerID implements Owner.
func (r OwnerRef) OwnerID() string { return r.ID }

// IsPersisted returns true if the owner has a durable identity.
func IsPersisted(o Owner) bool {
	return o != nil && o.OwnerID() != ""
}
